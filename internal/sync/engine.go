// Package sync implements the Sync Engine (C11): a bounded worker pool
// that runs connector syncs, indexes whatever each sync writes to disk,
// and manages recurring per-connector schedules. It mirrors the source
// system's asyncio-based engine, substituting a worker-pool + context
// cancellation for asyncio tasks and a thread pool.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localdocs/docengine/internal/connector"
	"github.com/localdocs/docengine/internal/engineerr"
	"github.com/localdocs/docengine/internal/indexer"
	"github.com/localdocs/docengine/internal/metadata"
)

// Workers is the fixed size of the sync engine's blocking-I/O worker pool.
const Workers = 2

// DefaultIntervalMinutes is the sync interval StartAllSchedules gives every
// restored connector. A connector's own sync_interval is not persisted, so it
// does not carry over a restart.
const DefaultIntervalMinutes = 30

// Result is the outcome of one sync_connector call.
type Result struct {
	connector.SyncResult
	IndexedFiles int `json:"indexed_files"`
}

// Engine coordinates connector syncs. A mutex guards the in_progress and
// schedules state; blocking connector sync work is limited to Workers
// concurrent calls by a semaphore.
type Engine struct {
	registry *connector.Registry
	indexer  *indexer.Indexer
	metadata *metadata.Store

	sem chan struct{} // bounds concurrent blocking I/O to Workers

	mu         sync.Mutex
	inProgress map[string]bool
	schedules  map[string]context.CancelFunc
}

// New builds a sync Engine over an already-open registry, indexer, and
// metadata store.
func New(registry *connector.Registry, ix *indexer.Indexer, md *metadata.Store) *Engine {
	return &Engine{
		registry:   registry,
		indexer:    ix,
		metadata:   md,
		sem:        make(chan struct{}, Workers),
		inProgress: make(map[string]bool),
		schedules:  make(map[string]context.CancelFunc),
	}
}

// SyncConnector runs a sync for one connector, then indexes whatever new
// content it wrote, gated so at most one sync per connector runs at a
// time. A concurrent call for the same connector returns a ConcurrencyError
// without blocking.
func (e *Engine) SyncConnector(ctx context.Context, connectorID string, progress connector.ProgressFunc) (Result, error) {
	e.mu.Lock()
	if e.inProgress[connectorID] {
		e.mu.Unlock()
		return Result{}, engineerr.Concurrency(fmt.Sprintf("sync already in progress for connector %s", connectorID), nil)
	}
	e.inProgress[connectorID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inProgress, connectorID)
		e.mu.Unlock()
	}()

	conn, err := e.registry.Get(ctx, connectorID)
	if err != nil {
		return Result{}, engineerr.Input("connector not found", err)
	}

	e.sem <- struct{}{}
	syncResult, syncErr := conn.Sync(ctx, progress)
	<-e.sem
	if syncErr != nil {
		return Result{SyncResult: syncResult}, engineerr.Transient("connector sync failed", syncErr)
	}

	result := Result{SyncResult: syncResult}
	if syncResult.NewItems > 0 {
		if progress != nil {
			progress("Indexing new items...")
		}
		indexed, err := e.indexConnectorItems(ctx, conn)
		if err != nil {
			return result, err
		}
		result.IndexedFiles = indexed
	}

	return result, nil
}

// indexConnectorItems indexes every .txt file in conn's items folder that
// is new or changed since the last index, using get_files_needing_index
// semantics against the folder's metadata entry.
func (e *Engine) indexConnectorItems(ctx context.Context, conn connector.Connector) (int, error) {
	folder := conn.ItemsFolder()
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, engineerr.FatalStore("read items folder", err)
	}

	var descriptors []metadata.FileDescriptor
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		descriptors = append(descriptors, metadata.FileDescriptor{Path: path, Size: info.Size(), Mtime: info.ModTime()})
	}

	changes, err := e.metadata.GetFilesNeedingIndex(folder, descriptors)
	if err != nil {
		return 0, engineerr.FatalStore("get files needing index", err)
	}

	var inputs []indexer.FileInput
	for _, path := range changes.ToIndex {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		inputs = append(inputs, indexer.FileInput{Path: path, Hash: metadata.FingerprintFile(path), Text: string(data)})
	}

	batch, err := e.indexer.IndexBatch(ctx, e.metadata, folder, inputs, changes.Deleted)
	if err != nil {
		return 0, err
	}
	return batch.FilesIndexed, nil
}

// StartAllSchedules restores every persisted connector and starts its
// recurring sync schedule. Call once at process startup.
func (e *Engine) StartAllSchedules(ctx context.Context) error {
	if err := e.registry.RestoreAll(ctx); err != nil {
		return fmt.Errorf("restore connectors: %w", err)
	}
	ids, err := e.registry.AllConfigs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.AddSchedule(id, DefaultIntervalMinutes)
	}
	return nil
}

// AddSchedule starts (or restarts) a recurring sync schedule for
// connectorID, firing every intervalMinutes.
func (e *Engine) AddSchedule(connectorID string, intervalMinutes int) {
	e.RemoveSchedule(connectorID)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.schedules[connectorID] = cancel
	e.mu.Unlock()

	go e.scheduledSync(ctx, connectorID, intervalMinutes)
}

func (e *Engine) scheduledSync(ctx context.Context, connectorID string, intervalMinutes int) {
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.SyncConnector(ctx, connectorID, nil)
		}
	}
}

// RemoveSchedule cancels connectorID's recurring sync, if any.
func (e *Engine) RemoveSchedule(connectorID string) {
	e.mu.Lock()
	cancel, ok := e.schedules[connectorID]
	if ok {
		delete(e.schedules, connectorID)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAllSchedules cancels every recurring sync schedule.
func (e *Engine) StopAllSchedules() {
	e.mu.Lock()
	schedules := e.schedules
	e.schedules = make(map[string]context.CancelFunc)
	e.mu.Unlock()
	for _, cancel := range schedules {
		cancel()
	}
}

// SyncAll runs SyncConnector concurrently (bounded by Workers) over every
// connector id in ids, collecting the first error via errgroup while still
// letting the rest complete.
func (e *Engine) SyncAll(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := e.SyncConnector(gctx, id, nil)
			return err
		})
	}
	return g.Wait()
}
