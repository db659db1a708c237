package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oasbridge/postman-sync/internal/postman"
	"github.com/oasbridge/postman-sync/internal/statestore"
	"github.com/oasbridge/postman-sync/internal/task"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.now = f.now.Add(d)
	return ctx.Err()
}

// fakeAPI is a scripted vendor backend that records every request.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string

	specs       []postman.Spec
	collections []postman.Collection
	taskPolls   int
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func (f *fakeAPI) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if strings.HasPrefix(req, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/specs":
			_ = json.NewEncoder(w).Encode(map[string]any{"specs": f.specs})
		case r.Method == http.MethodPost && r.URL.Path == "/specs":
			created := postman.Spec{ID: "spec-created", Name: "checkout-prod"}
			f.mu.Lock()
			f.specs = append(f.specs, created)
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(created)
		case r.Method == http.MethodPatch && strings.Contains(r.URL.Path, "/files/"):
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			_ = json.NewEncoder(w).Encode(map[string]any{"collections": f.collections})
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/synchronizations"):
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"pending","url":"/tasks/sync-1"}`))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/generations"):
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"pending","url":"/tasks/gen-1"}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tasks/"):
			f.mu.Lock()
			f.taskPolls++
			polls := f.taskPolls
			f.mu.Unlock()
			status := "pending"
			if polls >= 2 {
				status = "success"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "url": r.URL.Path})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestDriver(t *testing.T, api *fakeAPI, store statestore.Store) *Driver {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	client := postman.NewClient(server.URL, "key", "ws-1", postman.WithRateLimit(1000))
	poller := task.New(time.Second, 30*time.Second)
	poller.Clock = &fakeClock{now: time.Unix(0, 0)}

	return New(client, store, poller, nil, nil)
}

func baseOptions() Options {
	return Options{
		Service:  "checkout",
		Stage:    "prod",
		FilePath: "index.json",
		Poll:     true,
	}
}

func TestRunCreatesSpecAndSyncsCollection(t *testing.T) {
	api := &fakeAPI{
		collections: []postman.Collection{{UID: "col-1", Name: "checkout-prod"}},
	}
	store := statestore.NewMemoryStore()
	driver := newTestDriver(t, api, store)

	report, err := driver.Run(context.Background(), baseOptions(), []byte(`{"openapi":"3.0.1"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.SpecID != "spec-created" || !report.SpecCreated {
		t.Fatalf("expected created spec, got %+v", report)
	}
	if report.CollectionUID != "col-1" {
		t.Fatalf("expected collection resolved, got %+v", report)
	}
	if report.TaskStatus != "success" {
		t.Fatalf("expected polled task success, got %q", report.TaskStatus)
	}

	state, _ := store.Load()
	entry := state.Entry("checkout:prod")
	// Key has an empty domain part.
	if entry.SpecID != "" {
		t.Fatalf("unexpected entry under wrong key: %+v", entry)
	}
	entry = state.Entry(":checkout:prod")
	if entry.SpecID != "spec-created" || entry.CollectionUID != "col-1" {
		t.Fatalf("expected state populated, got %+v", entry)
	}

	if got := api.count("POST /specs"); got != 1 {
		t.Fatalf("expected exactly one create call, got %d", got)
	}
	if got := api.count("PATCH /specs"); got != 1 {
		t.Fatalf("expected one content patch, got %d", got)
	}
}

func TestRunCacheHitSkipsSpecLookup(t *testing.T) {
	api := &fakeAPI{
		collections: []postman.Collection{{UID: "col-1", Name: "checkout-prod"}},
	}
	store := statestore.NewMemoryStore()
	seed := statestore.NewState()
	seed.Put(":checkout:prod", statestore.Entry{SpecID: "spec-cached", CollectionUID: "col-1"})
	if err := store.Save(seed); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	driver := newTestDriver(t, api, store)

	report, err := driver.Run(context.Background(), baseOptions(), []byte(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.SpecID != "spec-cached" || report.SpecCreated {
		t.Fatalf("expected cached spec id, got %+v", report)
	}
	if got := api.count("GET /specs"); got != 0 {
		t.Fatalf("expected no spec listing on cache hit, got %d", got)
	}
	if got := api.count("POST /specs"); got != 0 {
		t.Fatalf("expected no create on cache hit, got %d", got)
	}
	if got := api.count("GET /collections"); got != 0 {
		t.Fatalf("expected no collection listing on cache hit, got %d", got)
	}
}

func TestRunMissingCollectionSkipsSyncWithAdvice(t *testing.T) {
	api := &fakeAPI{}
	store := statestore.NewMemoryStore()
	driver := newTestDriver(t, api, store)

	report, err := driver.Run(context.Background(), baseOptions(), []byte(`{}`))
	if err != nil {
		t.Fatalf("missing collection must not fail the run: %v", err)
	}

	if report.CollectionAdvice == "" {
		t.Fatalf("expected advisory message, got %+v", report)
	}
	if got := api.count("PUT /specs"); got != 0 {
		t.Fatalf("expected no sync call, got %d", got)
	}

	// Partial progress: the spec id survives for the next run.
	state, _ := store.Load()
	if state.Entry(":checkout:prod").SpecID == "" {
		t.Fatalf("expected spec id persisted despite missing collection")
	}
}

func TestRunGeneratesCollectionWhenRequested(t *testing.T) {
	api := &fakeAPI{}
	store := statestore.NewMemoryStore()
	driver := newTestDriver(t, api, store)

	opts := baseOptions()
	opts.Generate = true

	report, err := driver.Run(context.Background(), opts, []byte(`{}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !report.Generated {
		t.Fatalf("expected generation, got %+v", report)
	}
	if report.TaskStatus != "success" {
		t.Fatalf("expected polled generation task, got %q", report.TaskStatus)
	}
	if got := api.count("POST /specs/"); got != 1 {
		t.Fatalf("expected one generation call, got %d", got)
	}
}

func TestRunRemoteFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded"}}`))
	}))
	defer server.Close()

	client := postman.NewClient(server.URL, "key", "ws-1", postman.WithRateLimit(1000))
	driver := New(client, statestore.NewMemoryStore(), task.New(time.Second, time.Second), nil, nil)

	_, err := driver.Run(context.Background(), baseOptions(), []byte(`{}`))
	if err == nil {
		t.Fatalf("expected remote failure to abort the run")
	}
	if !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestSpecNameJoinsParts(t *testing.T) {
	opts := Options{Domain: "payments", Service: "checkout api", Stage: "prod"}
	if got := opts.SpecName(); got != "payments-checkout-api-prod" {
		t.Fatalf("unexpected spec name: %q", got)
	}

	opts = Options{Service: "checkout", Stage: "prod"}
	if got := opts.SpecName(); got != "checkout-prod" {
		t.Fatalf("unexpected spec name: %q", got)
	}
}
