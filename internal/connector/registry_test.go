package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	id          string
	typ         string
	authErr     error
	itemsFolder string
	status      Status
}

func (f *fakeConnector) Authenticate(_ context.Context, _ map[string]string) error {
	if f.authErr != nil {
		return f.authErr
	}
	f.status = StatusAuthenticated
	return nil
}

func (f *fakeConnector) Sync(_ context.Context, _ ProgressFunc) (SyncResult, error) {
	return SyncResult{NewItems: 1, TotalItems: 1}, nil
}

func (f *fakeConnector) GetStatus() StatusInfo {
	return StatusInfo{ID: f.id, Type: f.typ, Status: f.status, ItemsFolder: f.itemsFolder}
}

func (f *fakeConnector) Cleanup() error { return nil }

func (f *fakeConnector) ItemsFolder() string { return f.itemsFolder }

func fakeFactory(authErr error) Factory {
	return func(id, typ string, config map[string]string, baseDir string) Connector {
		return &fakeConnector{id: id, typ: typ, authErr: authErr, itemsFolder: filepath.Join(baseDir, "items")}
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg := NewRegistry(filepath.Join(dir, "connectors_config.json"), dir)
	reg.Register("fake", fakeFactory(nil))
	return reg
}

func TestRegistry_AddPersistsAndReturnsStatus(t *testing.T) {
	reg := newTestRegistry(t)
	status, err := reg.Add(context.Background(), "fake", "my label", map[string]string{"token": "x"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, status.Status)
	assert.Len(t, status.ID, 12)
}

func TestRegistry_AddRejectsUnknownType(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Add(context.Background(), "nope", "", nil)
	assert.Error(t, err)
}

func TestRegistry_AddFailsAuthLeavesNoTrace(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(filepath.Join(dir, "connectors_config.json"), dir)
	reg.Register("fake", fakeFactory(assert.AnError))

	_, err := reg.Add(context.Background(), "fake", "", nil)
	require.Error(t, err)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegistry_ListReturnsAllConfigured(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Add(context.Background(), "fake", "a", nil)
	require.NoError(t, err)
	_, err = reg.Add(context.Background(), "fake", "b", nil)
	require.NoError(t, err)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRegistry_RemoveDropsFromListAndCache(t *testing.T) {
	reg := newTestRegistry(t)
	status, err := reg.Add(context.Background(), "fake", "", nil)
	require.NoError(t, err)

	require.NoError(t, reg.Remove(context.Background(), status.ID))

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = reg.Get(context.Background(), status.ID)
	assert.Error(t, err)
}

func TestRegistry_RestoreAllRehydratesFromDisk(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "connectors_config.json")

	reg1 := NewRegistry(configPath, dir)
	reg1.Register("fake", fakeFactory(nil))
	status, err := reg1.Add(context.Background(), "fake", "persisted", map[string]string{"k": "v"})
	require.NoError(t, err)

	reg2 := NewRegistry(configPath, dir)
	reg2.Register("fake", fakeFactory(nil))
	require.NoError(t, reg2.RestoreAll(context.Background()))

	instance, err := reg2.Get(context.Background(), status.ID)
	require.NoError(t, err)
	assert.Equal(t, status.ID, instance.GetStatus().ID)
}

func TestRegistry_GetLazilyInstantiatesUncachedConnector(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "connectors_config.json")

	reg1 := NewRegistry(configPath, dir)
	reg1.Register("fake", fakeFactory(nil))
	status, err := reg1.Add(context.Background(), "fake", "", nil)
	require.NoError(t, err)

	reg2 := NewRegistry(configPath, dir)
	reg2.Register("fake", fakeFactory(nil))

	instance, err := reg2.Get(context.Background(), status.ID)
	require.NoError(t, err)
	assert.Equal(t, status.ID, instance.GetStatus().ID)
}

func TestRegistry_AllConfigsReturnsPersistedIDs(t *testing.T) {
	reg := newTestRegistry(t)
	status, err := reg.Add(context.Background(), "fake", "", nil)
	require.NoError(t, err)

	ids, err := reg.AllConfigs()
	require.NoError(t, err)
	assert.Equal(t, []string{status.ID}, ids)
}
