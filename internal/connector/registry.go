package connector

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// configEntry is one connector's persisted record in connectors_config.json.
type configEntry struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Label       string            `json:"label"`
	Credentials map[string]string `json:"credentials"`
	Config      map[string]string `json:"config"`
	AddedAt     time.Time         `json:"added_at"`
}

type configFile struct {
	Connectors []configEntry `json:"connectors"`
}

// Registry manages connector lifecycle: construction from registered
// factories, CRUD against a JSON config file, and live instance caching.
// It is the Go counterpart of the source system's connector_registry
// module, persisting to connectors/connectors_config.json instead of a
// database.
type Registry struct {
	configPath string
	storageDir string
	lock       *flock.Flock

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Connector
}

// NewRegistry creates a registry persisting connector config at configPath
// and storing each connector's items/state under storageDir/{type}/{id}.
func NewRegistry(configPath, storageDir string) *Registry {
	return &Registry{
		configPath: configPath,
		storageDir: storageDir,
		lock:       flock.New(configPath + ".lock"),
		factories:  make(map[string]Factory),
		instances:  make(map[string]Connector),
	}
}

// Register associates a connector type name with its Factory. Call this
// once per supported connector type before using the registry.
func (r *Registry) Register(connectorType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[connectorType] = factory
}

// Types returns the connector type names registered via Register, for
// GET /connectors/types.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) withLock(fn func(*configFile) (*configFile, error)) error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("lock connector config: %w", err)
	}
	defer func() { _ = r.lock.Unlock() }()

	cfg, err := r.load()
	if err != nil {
		return err
	}
	updated, err := fn(cfg)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	return r.save(updated)
}

func (r *Registry) load() (*configFile, error) {
	data, err := os.ReadFile(r.configPath)
	if os.IsNotExist(err) {
		return &configFile{Connectors: []configEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read connector config: %w", err)
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse connector config: %w", err)
	}
	return &cfg, nil
}

func (r *Registry) save(cfg *configFile) error {
	if err := os.MkdirAll(filepath.Dir(r.configPath), 0o755); err != nil {
		return fmt.Errorf("create connector config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connector config: %w", err)
	}
	tmp := r.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write connector config: %w", err)
	}
	return os.Rename(tmp, r.configPath)
}

// newID generates a 12-hex-character connector id, matching the source
// system's uuid4().hex[:12] scheme.
func newID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate connector id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (r *Registry) baseDir(connectorType, id string) string {
	return filepath.Join(r.storageDir, connectorType, id)
}

func (r *Registry) instantiate(entry configEntry) (Connector, error) {
	r.mu.Lock()
	factory, ok := r.factories[entry.Type]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unregistered connector type: %s", entry.Type)
	}
	return factory(entry.ID, entry.Type, entry.Config, r.baseDir(entry.Type, entry.ID)), nil
}

// Add authenticates a new connector of connectorType and persists it.
// Authentication failure leaves no trace in the config file.
func (r *Registry) Add(ctx context.Context, connectorType, label string, credentials map[string]string) (StatusInfo, error) {
	r.mu.Lock()
	_, known := r.factories[connectorType]
	r.mu.Unlock()
	if !known {
		return StatusInfo{}, fmt.Errorf("unknown connector type: %s", connectorType)
	}

	id, err := newID()
	if err != nil {
		return StatusInfo{}, err
	}
	if label == "" {
		label = connectorType
	}

	r.mu.Lock()
	factory := r.factories[connectorType]
	r.mu.Unlock()

	instance := factory(id, connectorType, map[string]string{"label": label}, r.baseDir(connectorType, id))
	if err := instance.Authenticate(ctx, credentials); err != nil {
		return StatusInfo{}, fmt.Errorf("authentication failed: %w", err)
	}

	entry := configEntry{
		ID:          id,
		Type:        connectorType,
		Label:       label,
		Credentials: credentials,
		Config:      map[string]string{"label": label},
		AddedAt:     time.Now(),
	}
	if err := r.withLock(func(cfg *configFile) (*configFile, error) {
		cfg.Connectors = append(cfg.Connectors, entry)
		return cfg, nil
	}); err != nil {
		return StatusInfo{}, err
	}

	r.mu.Lock()
	r.instances[id] = instance
	r.mu.Unlock()

	return instance.GetStatus(), nil
}

// Remove cleans up a connector's local data and drops it from the config
// file and the live instance cache.
func (r *Registry) Remove(ctx context.Context, id string) error {
	instance, err := r.Get(ctx, id)
	if err == nil && instance != nil {
		if cleanupErr := instance.Cleanup(); cleanupErr != nil {
			return fmt.Errorf("cleanup connector %s: %w", id, cleanupErr)
		}
	}

	if err := r.withLock(func(cfg *configFile) (*configFile, error) {
		filtered := cfg.Connectors[:0]
		for _, e := range cfg.Connectors {
			if e.ID != id {
				filtered = append(filtered, e)
			}
		}
		cfg.Connectors = filtered
		return cfg, nil
	}); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
	return nil
}

// Get returns a live connector instance, lazily instantiating it from
// persisted config (and re-authenticating with stored credentials) if it
// is not already cached in memory.
func (r *Registry) Get(ctx context.Context, id string) (Connector, error) {
	r.mu.Lock()
	instance, ok := r.instances[id]
	r.mu.Unlock()
	if ok {
		return instance, nil
	}

	cfg, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, entry := range cfg.Connectors {
		if entry.ID != id {
			continue
		}
		return r.restore(ctx, entry)
	}
	return nil, fmt.Errorf("connector %s not found", id)
}

func (r *Registry) restore(ctx context.Context, entry configEntry) (Connector, error) {
	instance, err := r.instantiate(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Credentials) > 0 {
		if err := instance.Authenticate(ctx, entry.Credentials); err != nil {
			// Matches the source system: a stale credential does not
			// prevent the connector from being listed, only from syncing.
			_ = err
		}
	}
	r.mu.Lock()
	r.instances[entry.ID] = instance
	r.mu.Unlock()
	return instance, nil
}

// List returns the status of every configured connector, instantiating
// any that are not yet live.
func (r *Registry) List(ctx context.Context) ([]StatusInfo, error) {
	cfg, err := r.load()
	if err != nil {
		return nil, err
	}
	statuses := make([]StatusInfo, 0, len(cfg.Connectors))
	for _, entry := range cfg.Connectors {
		instance, err := r.Get(ctx, entry.ID)
		if err != nil {
			statuses = append(statuses, StatusInfo{
				ID: entry.ID, Type: entry.Type, Label: entry.Label,
				Status: StatusError, LastError: "could not instantiate connector",
			})
			continue
		}
		statuses = append(statuses, instance.GetStatus())
	}
	return statuses, nil
}

// RestoreAll re-instantiates every persisted connector into the live
// instance cache. Call once at process startup before scheduling syncs.
func (r *Registry) RestoreAll(ctx context.Context) error {
	cfg, err := r.load()
	if err != nil {
		return err
	}
	for _, entry := range cfg.Connectors {
		r.mu.Lock()
		_, alreadyLive := r.instances[entry.ID]
		r.mu.Unlock()
		if alreadyLive {
			continue
		}
		if _, err := r.restore(ctx, entry); err != nil {
			return fmt.Errorf("restore connector %s: %w", entry.ID, err)
		}
	}
	return nil
}

// AllConfigs returns the ids of every persisted connector entry, used by the
// sync engine to schedule recurring syncs without needing credentials.
func (r *Registry) AllConfigs() ([]string, error) {
	cfg, err := r.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cfg.Connectors))
	for i, e := range cfg.Connectors {
		ids[i] = e.ID
	}
	return ids, nil
}
