// Package syncer orchestrates the sync pipeline: resolve the spec, patch its
// content, resolve the linked collection, trigger synchronization, and
// optionally poll the resulting task. Steps run strictly in order; the first
// failure stops the run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oasbridge/postman-sync/internal/postman"
	"github.com/oasbridge/postman-sync/internal/resolver"
	"github.com/oasbridge/postman-sync/internal/statestore"
	"github.com/oasbridge/postman-sync/internal/task"
	"github.com/oasbridge/postman-sync/pkg/metrics"
)

// Options selects what one run operates on.
type Options struct {
	Domain  string
	Service string
	Stage   string

	// FilePath is the named content file inside the spec resource.
	FilePath string

	// SpecID, CollectionUID and CollectionName override cache and
	// name-based resolution when provided.
	SpecID         string
	CollectionUID  string
	CollectionName string

	// Poll waits for the asynchronous task to finish.
	Poll bool
	// Generate requests collection generation when no collection matches,
	// instead of skipping with an advisory.
	Generate bool
}

// SpecName derives the display name used for spec and collection resolution
// from the non-empty parts of the composite key.
func (o Options) SpecName() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{o.Domain, o.Service, o.Stage} {
		if sanitized := strings.Join(strings.Fields(part), "-"); sanitized != "" {
			parts = append(parts, sanitized)
		}
	}
	return strings.Join(parts, "-")
}

// Report summarises one pipeline run.
type Report struct {
	Key              string    `json:"key"`
	SpecName         string    `json:"specName"`
	SpecID           string    `json:"specId"`
	SpecCreated      bool      `json:"specCreated"`
	CollectionUID    string    `json:"collectionUid,omitempty"`
	CollectionAdvice string    `json:"collectionAdvice,omitempty"`
	Generated        bool      `json:"generated,omitempty"`
	TaskURL          string    `json:"taskUrl,omitempty"`
	TaskStatus       string    `json:"taskStatus,omitempty"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// Driver wires the remote client, state store and poller together.
type Driver struct {
	client  *postman.Client
	store   statestore.Store
	poller  *task.Poller
	logger  *zap.SugaredLogger
	metrics *metrics.Registry
}

// New constructs a driver. logger may be nil.
func New(client *postman.Client, store statestore.Store, poller *task.Poller, logger *zap.SugaredLogger, reg *metrics.Registry) *Driver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Driver{
		client:  client,
		store:   store,
		poller:  poller,
		logger:  logger,
		metrics: reg,
	}
}

// Run executes the pipeline for one document. The state entry is saved after
// each successful resolution, so a later failure never loses already
// resolved identifiers.
func (d *Driver) Run(ctx context.Context, opts Options, content []byte) (report Report, err error) {
	defer func() {
		if err != nil {
			d.metrics.ObserveRun("failure")
		} else {
			d.metrics.ObserveRun("success")
		}
	}()

	key := statestore.Key(opts.Domain, opts.Service, opts.Stage)
	specName := opts.SpecName()
	report = Report{Key: key, SpecName: specName}

	state, err := d.store.Load()
	if err != nil {
		return report, fmt.Errorf("load state: %w", err)
	}
	entry := state.Entry(key)

	specID, created, err := d.resolveSpec(ctx, opts, entry, specName, content)
	if err != nil {
		return report, fmt.Errorf("resolve spec: %w", err)
	}
	report.SpecID = specID
	report.SpecCreated = created

	entry.SpecID = specID
	state.Put(key, entry)
	if err = d.store.Save(state); err != nil {
		return report, fmt.Errorf("save state: %w", err)
	}
	d.logger.Infow("spec resolved", "key", key, "specId", specID, "created", created)

	if err = d.client.UpdateSpecFile(ctx, specID, opts.FilePath, content); err != nil {
		return report, fmt.Errorf("update spec content: %w", err)
	}
	d.logger.Infow("spec content updated", "specId", specID, "filePath", opts.FilePath)

	collectionName := opts.CollectionName
	if collectionName == "" {
		collectionName = specName
	}

	collectionUID, _, err := resolver.Resolve(ctx, firstNonEmpty(opts.CollectionUID, entry.CollectionUID),
		d.findCollectionByName(collectionName), nil)
	if errors.Is(err, resolver.ErrNotFound) {
		if opts.Generate {
			return d.generateCollection(ctx, opts, specID, collectionName, report)
		}
		report.CollectionAdvice = fmt.Sprintf(
			"no collection named %q found; create one in the workspace (or pass --collection-uid) and re-run", collectionName)
		d.logger.Warnw("collection not found, skipping synchronization",
			"key", key, "collection", collectionName)
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("resolve collection: %w", err)
	}
	report.CollectionUID = collectionUID

	entry.CollectionUID = collectionUID
	state.Put(key, entry)
	if err = d.store.Save(state); err != nil {
		return report, fmt.Errorf("save state: %w", err)
	}
	d.logger.Infow("collection resolved", "key", key, "collectionUid", collectionUID)

	syncTask, err := d.client.SyncCollection(ctx, specID, collectionUID)
	if err != nil {
		return report, fmt.Errorf("synchronize collection: %w", err)
	}
	report.TaskURL = syncTask.URL
	report.TaskStatus = syncTask.Status

	if opts.Poll {
		final, pollErr := d.pollTask(ctx, syncTask)
		if pollErr != nil {
			return report, fmt.Errorf("poll synchronization task: %w", pollErr)
		}
		report.TaskStatus = final.Status
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

func (d *Driver) resolveSpec(ctx context.Context, opts Options, entry statestore.Entry, specName string, content []byte) (string, bool, error) {
	cached := firstNonEmpty(opts.SpecID, entry.SpecID)

	find := func(ctx context.Context) (string, bool, error) {
		specs, err := d.client.ListSpecs(ctx)
		if err != nil {
			return "", false, err
		}
		for _, spec := range specs {
			if spec.Name == specName {
				return spec.ID, true, nil
			}
		}
		return "", false, nil
	}

	create := func(ctx context.Context) (string, error) {
		spec, err := d.client.CreateSpec(ctx, specName, opts.FilePath, content)
		if err != nil {
			return "", err
		}
		return spec.ID, nil
	}

	return resolver.Resolve(ctx, cached, find, create)
}

// findCollectionByName lists workspace collections, falling back to the
// account-wide listing when the scoped call fails.
func (d *Driver) findCollectionByName(name string) resolver.FindFunc {
	return func(ctx context.Context) (string, bool, error) {
		collections, err := d.client.ListCollections(ctx, true)
		if err != nil {
			d.logger.Debugw("workspace collection listing failed, falling back to global", "error", err)
			collections, err = d.client.ListCollections(ctx, false)
			if err != nil {
				return "", false, err
			}
		}
		for _, collection := range collections {
			if collection.Name == name {
				return collection.UID, true, nil
			}
		}
		return "", false, nil
	}
}

func (d *Driver) generateCollection(ctx context.Context, opts Options, specID, collectionName string, report Report) (Report, error) {
	genTask, err := d.client.GenerateCollection(ctx, specID, collectionName)
	if err != nil {
		return report, fmt.Errorf("generate collection: %w", err)
	}
	report.Generated = true
	report.TaskURL = genTask.URL
	report.TaskStatus = genTask.Status
	d.logger.Infow("collection generation requested",
		"specId", specID, "collection", collectionName, "taskUrl", genTask.URL)

	if opts.Poll {
		final, pollErr := d.pollTask(ctx, genTask)
		if pollErr != nil {
			return report, fmt.Errorf("poll generation task: %w", pollErr)
		}
		report.TaskStatus = final.Status
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

func (d *Driver) pollTask(ctx context.Context, t postman.Task) (postman.Task, error) {
	if t.URL == "" {
		return t, nil
	}

	final, err := d.poller.Poll(ctx, func(ctx context.Context) (postman.Task, error) {
		return d.client.TaskStatus(ctx, t.URL)
	})
	if err != nil {
		return final, err
	}
	if !final.Terminal() {
		d.logger.Warnw("task still running after poll timeout",
			"taskUrl", t.URL, "lastStatus", final.Status)
	}
	return final, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
