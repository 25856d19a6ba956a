package reload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/supervisor"
)

const initialTOML = `
version = "V3"
http_port = 8080
tls_port = 4343

[[remote_target]]
host_name = "a.local"
backends = [{ address = "127.0.0.1", port = 9000 }]
`

const updatedTOML = `
version = "V3"
http_port = 8080
tls_port = 4343

[[remote_target]]
host_name = "a.local"
backends = [{ address = "127.0.0.1", port = 9001 }]

[[remote_target]]
host_name = "b.local"
backends = [{ address = "127.0.0.1", port = 9002 }]
`

func TestWatcher_ReconcileSwapsSnapshotOnValidChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odd-box.toml")
	require.NoError(t, os.WriteFile(path, []byte(initialTOML), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	pool := supervisor.NewPool(gs, dir, dir, 15000, nil)

	w := New(path, gs, pool, dir, nil)

	require.NoError(t, os.WriteFile(path, []byte(updatedTOML), 0o644))
	w.reconcile()

	snap := gs.Snapshot()
	assert.EqualValues(t, 1, snap.InternalVersion)
	assert.Len(t, snap.Cfg.RemoteTargets, 2)
}

func TestWatcher_ReconcileRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odd-box.toml")
	require.NoError(t, os.WriteFile(path, []byte(initialTOML), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	pool := supervisor.NewPool(gs, dir, dir, 15000, nil)
	w := New(path, gs, pool, dir, nil)

	duplicateHosts := `
version = "V3"
[[remote_target]]
host_name = "dup.local"
backends = [{ address = "127.0.0.1", port = 9000 }]
[[remote_target]]
host_name = "dup.local"
backends = [{ address = "127.0.0.1", port = 9001 }]
`
	require.NoError(t, os.WriteFile(path, []byte(duplicateHosts), 0o644))
	w.reconcile()

	assert.EqualValues(t, 0, gs.Snapshot().InternalVersion)
}

func TestDebounce_IsPositive(t *testing.T) {
	assert.Greater(t, Debounce, time.Duration(0))
}
