// Command postman-sync pushes a locally generated OpenAPI document to the
// Postman API platform and keeps the linked collection in sync.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/cors"

	"github.com/oasbridge/postman-sync/internal/config"
	"github.com/oasbridge/postman-sync/internal/document"
	"github.com/oasbridge/postman-sync/internal/postman"
	"github.com/oasbridge/postman-sync/internal/statestore"
	"github.com/oasbridge/postman-sync/internal/syncer"
	"github.com/oasbridge/postman-sync/internal/task"
	"github.com/oasbridge/postman-sync/internal/transform"
	pkglog "github.com/oasbridge/postman-sync/pkg/log"
	"github.com/oasbridge/postman-sync/pkg/metrics"
)

const defaultStateFile = "state/postman-ingestion-state.json"

// usageError marks failures that should exit with code 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sync":
		err = syncCommand(os.Args[2:])
	case "transform":
		err = transformCommand(os.Args[2:])
	case "poll":
		err = pollCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "postman-sync %s: %s\n", os.Args[1], usageErr.msg)
			os.Exit(2)
		}
		pkglog.Logger().Errorw("command failed", "command", os.Args[1], "error", err)
		_ = pkglog.Sync()
		os.Exit(1)
	}
	_ = pkglog.Sync()
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: postman-sync <command> [options]\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  sync       Resolve the spec, upload content and synchronize the collection\n")
	fmt.Fprintf(os.Stderr, "  transform  Clean a vendor-flavoured OpenAPI document and print it\n")
	fmt.Fprintf(os.Stderr, "  poll       Poll an asynchronous task URL to a terminal status\n")
	fmt.Fprintf(os.Stderr, "  validate   Check the transformed document with the OpenAPI toolchain\n")
}

func syncCommand(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	domain := fs.String("domain", "", "Owning domain, first part of the cache key")
	service := fs.String("service", "", "Service name (required)")
	stage := fs.String("stage", "", "Deployment stage (required)")
	openapiPath := fs.String("openapi", "", "Path to the OpenAPI document (required)")
	filePath := fs.String("file-path", "index.json", "Content file name inside the spec resource")
	specID := fs.String("spec-id", "", "Known spec id, skips name-based resolution")
	collectionUID := fs.String("collection-uid", "", "Known collection uid, skips name-based resolution")
	collectionName := fs.String("collection-name", "", "Collection name to resolve (defaults to the spec name)")
	stateFile := fs.String("state-file", defaultStateFile, "Path to the local state file")
	poll := fs.Bool("poll", false, "Wait for the synchronization task to finish")
	generate := fs.Bool("generate", false, "Generate the collection when none matches by name")
	watch := fs.Bool("watch", false, "Re-run the sync whenever the OpenAPI file changes")
	statusAddr := fs.String("status-addr", "", "Expose /statusz and /metrics on this address while watching")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *service == "" {
		return usagef("--service is required")
	}
	if *stage == "" {
		return usagef("--stage is required")
	}
	if *openapiPath == "" {
		return usagef("--openapi is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return usagef("load config: %v", err)
	}

	logger := pkglog.Logger()
	reg := metrics.NewRegistry()

	client := postman.NewClient(cfg.BaseURL, cfg.APIKey, cfg.WorkspaceID,
		postman.WithLogger(logger),
		postman.WithMetrics(reg),
		postman.WithRateLimit(cfg.RateLimitRPS),
		postman.WithTimeout(cfg.HTTPTimeout),
	)
	store := statestore.NewFileStore(*stateFile)
	poller := task.New(cfg.PollInterval, cfg.PollTimeout)
	driver := syncer.New(client, store, poller, logger, reg)

	opts := syncer.Options{
		Domain:         *domain,
		Service:        *service,
		Stage:          *stage,
		FilePath:       *filePath,
		SpecID:         *specID,
		CollectionUID:  *collectionUID,
		CollectionName: *collectionName,
		Poll:           *poll,
		Generate:       *generate,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		reportMu   sync.Mutex
		lastReport syncer.Report
	)

	runOnce := func() (syncer.Report, error) {
		doc, err := document.Load(*openapiPath)
		if err != nil {
			return syncer.Report{}, err
		}

		cleaned := transform.Apply(doc)
		if err := document.Validate(ctx, cleaned); err != nil {
			logger.Warnw("transformed document failed openapi validation, uploading anyway", "error", err)
		}

		content, err := document.Marshal(cleaned)
		if err != nil {
			return syncer.Report{}, err
		}

		report, err := driver.Run(ctx, opts, content)
		if err != nil {
			return report, err
		}

		reportMu.Lock()
		lastReport = report
		reportMu.Unlock()

		printReport(report)
		snapshot := reg.Snapshot()
		logger.Infow("run finished",
			"apiRequests", snapshot["postman_api_requests_total"],
			"runs", snapshot["postman_sync_runs_total"],
		)
		return report, nil
	}

	if !*watch {
		_, err := runOnce()
		return err
	}

	if *statusAddr != "" {
		startStatusServer(*statusAddr, reg, func() syncer.Report {
			reportMu.Lock()
			defer reportMu.Unlock()
			return lastReport
		})
	}

	if _, err := runOnce(); err != nil {
		logger.Errorw("initial sync failed, watching for changes anyway", "error", err)
	}

	return watchAndSync(ctx, *openapiPath, func() {
		if _, err := runOnce(); err != nil {
			logger.Errorw("sync failed", "error", err)
		}
	})
}

// watchAndSync re-runs onChange whenever the document file is written,
// debounced so editors that truncate-then-write trigger one run.
func watchAndSync(ctx context.Context, path string, onChange func()) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve document path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	logger := pkglog.Logger()
	logger.Infow("watching document for changes", "path", absPath)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targetsFile(evt.Name, absPath) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case <-debounce:
			onChange()
			debounce = nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("watch error", "error", err)
		}
	}
}

func targetsFile(eventPath, target string) bool {
	if eventPath == "" {
		return false
	}
	abs, err := filepath.Abs(eventPath)
	if err != nil {
		return false
	}
	return abs == target
}

// startStatusServer exposes the last run report and the metrics registry for
// local dashboards while watch mode runs.
func startStatusServer(addr string, reg *metrics.Registry, report func() syncer.Report) {
	mux := http.NewServeMux()
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report())
	})
	mux.Handle("/metrics", reg.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: cors.Default().Handler(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkglog.Logger().Warnw("status server stopped", "error", err)
		}
	}()
}

func transformCommand(args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	openapiPath := fs.String("openapi", "", "Path to the OpenAPI document (required)")
	outputPath := fs.String("output", "", "Destination path (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *openapiPath == "" {
		return usagef("--openapi is required")
	}

	doc, err := document.Load(*openapiPath)
	if err != nil {
		return err
	}

	content, err := document.Marshal(transform.Apply(doc))
	if err != nil {
		return err
	}

	if *outputPath == "" {
		fmt.Println(string(content))
		return nil
	}

	if err := os.WriteFile(*outputPath, append(content, '\n'), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("transformed document written to %s\n", *outputPath)
	return nil
}

func pollCommand(args []string) error {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	taskURL := fs.String("url", "", "Task URL to poll (required)")
	interval := fs.Duration("interval", task.DefaultInterval, "Pause between status fetches")
	timeout := fs.Duration("timeout", task.DefaultTimeout, "Overall poll deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *taskURL == "" {
		return usagef("--url is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return usagef("load config: %v", err)
	}

	logger := pkglog.Logger()
	client := postman.NewClient(cfg.BaseURL, cfg.APIKey, cfg.WorkspaceID,
		postman.WithLogger(logger),
		postman.WithRateLimit(cfg.RateLimitRPS),
		postman.WithTimeout(cfg.HTTPTimeout),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	poller := task.New(*interval, *timeout)
	final, err := poller.Poll(ctx, func(ctx context.Context) (postman.Task, error) {
		return client.TaskStatus(ctx, *taskURL)
	})
	if err != nil {
		return fmt.Errorf("poll task: %w", err)
	}

	if !final.Terminal() {
		logger.Warnw("task not terminal at deadline", "taskUrl", *taskURL, "lastStatus", final.Status)
	}

	out, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	openapiPath := fs.String("openapi", "", "Path to the OpenAPI document (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *openapiPath == "" {
		return usagef("--openapi is required")
	}

	doc, err := document.Load(*openapiPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := document.Validate(ctx, transform.Apply(doc)); err != nil {
		return err
	}

	fmt.Println("document valid")
	return nil
}

func printReport(report syncer.Report) {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
