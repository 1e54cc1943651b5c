// Package connector defines the capability set every data-source connector
// implements (Authenticate, Sync, GetStatus, Cleanup) and a registry that
// persists connector configuration across process restarts. Concrete
// connectors (IMAP/Gmail, and future source types) live in subpackages and
// register a constructor with the registry's type table.
package connector

import (
	"context"
	"time"
)

// Status mirrors a connector's current lifecycle state.
type Status string

const (
	StatusNotConfigured Status = "not_configured"
	StatusAuthenticated Status = "authenticated"
	StatusSyncing       Status = "syncing"
	StatusIdle          Status = "idle"
	StatusError         Status = "error"
)

// SyncResult reports the outcome of one Sync call. Errors is populated with
// per-item or per-folder failures that did not abort the whole sync — a
// connector degrades gracefully rather than returning early on a partial
// failure.
type SyncResult struct {
	NewItems    int      `json:"new_items"`
	TotalItems  int      `json:"total_items"`
	Errors      []string `json:"errors"`
}

// StatusInfo is the JSON-serializable snapshot returned by GetStatus.
type StatusInfo struct {
	ID          string     `json:"connector_id"`
	Type        string     `json:"connector_type"`
	Label       string     `json:"label"`
	Status      Status     `json:"status"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ItemsSynced int        `json:"items_synced"`
	ItemsFolder string     `json:"items_folder"`
}

// ProgressFunc receives human-readable progress updates during Sync, used
// to drive the SSE stream on /connectors/{id}/sync.
type ProgressFunc func(message string)

// Connector is the capability set every data-source connector implements.
type Connector interface {
	// Authenticate validates credentials against the source, returning an
	// error if they are missing or rejected. On success the connector's
	// status becomes StatusAuthenticated.
	Authenticate(ctx context.Context, credentials map[string]string) error

	// Sync pulls new items from the source into the connector's items
	// folder on disk, reporting progress through progress (nil is
	// permitted). A source-level failure only aborts the parts of the sync
	// that cannot continue; partial progress and per-item errors are
	// always returned rather than discarded.
	Sync(ctx context.Context, progress ProgressFunc) (SyncResult, error)

	GetStatus() StatusInfo

	// Cleanup deletes all local data associated with this connector
	// instance (items folder and state file).
	Cleanup() error

	// ItemsFolder is the directory the indexer should scan for this
	// connector's synced content.
	ItemsFolder() string
}

// Factory constructs a Connector instance of a registered type from its
// persisted config. baseDir is the connector's storage root
// ("{root}/{type}/{id}").
type Factory func(id, connectorType string, config map[string]string, baseDir string) Connector
