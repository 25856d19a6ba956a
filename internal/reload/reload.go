// Package reload watches the configuration file for changes and
// reconciles the running GlobalState against a freshly parsed,
// validated snapshot (spec §4.10), the same fsnotify-plus-debounce
// shape used for watching credential files in the example pack's
// metrics-proxy TLS reload loop.
package reload

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/supervisor"
)

// Debounce is spec §4.10 step 1's coalescing window: a burst of editor
// writes to the same file collapses into one reconciliation pass.
const Debounce = 1500 * time.Millisecond

// RemovalPollInterval is spec §4.10 step 5's poll cadence while
// waiting for marked-for-removal supervisors to exit.
const RemovalPollInterval = 500 * time.Millisecond

// Watcher owns the fsnotify handle and drives reconciliation against
// gs and pool whenever the watched file changes.
type Watcher struct {
	Path string
	GS   *globalstate.GlobalState
	Pool *supervisor.Pool
	Log  *zap.Logger

	RootDir string
}

func New(path string, gs *globalstate.GlobalState, pool *supervisor.Pool, rootDir string, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{Path: path, GS: gs, Pool: pool, RootDir: rootDir, Log: log}
}

// Run watches w.Path until stop is closed, debouncing bursts of
// filesystem events and reconciling once per settled burst.
func (w *Watcher) Run(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.Path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(w.Path)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			switch event.Op {
			case fsnotify.Write, fsnotify.Create, fsnotify.Rename, fsnotify.Chmod:
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(Debounce)
				timerCh = timer.C
			}
		case <-timerCh:
			timerCh = nil
			w.reconcile()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reconcile implements spec §4.10's six-step algorithm.
func (w *Watcher) reconcile() {
	newCfg, err := config.Load(w.Path)
	if err != nil {
		w.Log.Error("reload rejected: invalid configuration", zap.Error(err))
		if w.GS.Metrics != nil {
			w.GS.Metrics.ReloadFailedTotal.Inc()
		}
		return
	}
	if err := newCfg.Validate(); err != nil {
		w.Log.Error("reload rejected: validation failed", zap.Error(err))
		if w.GS.Metrics != nil {
			w.GS.Metrics.ReloadFailedTotal.Inc()
		}
		return
	}

	oldSnapshot := w.GS.Snapshot()
	oldByHost := indexHostedProcesses(oldSnapshot.Cfg)
	newByHost := indexHostedProcesses(newCfg)

	var removed []string
	for host, old := range oldByHost {
		next, stillPresent := newByHost[host]
		if !stillPresent || !old.Unchanged(next) {
			removed = append(removed, host)
		}
	}

	acks := make([]chan struct{}, 0, len(removed))
	for _, host := range removed {
		ack := make(chan struct{})
		acks = append(acks, ack)
		w.Pool.MarkForRemoval(host, ack)
	}

	deadline := time.Now().Add(30 * time.Second)
	for _, ack := range acks {
		select {
		case <-ack:
		case <-time.After(time.Until(deadline)):
			w.Log.Warn("timed out waiting for supervisor removal during reload")
		}
	}
	for time.Now().Before(deadline) {
		stillRunning := false
		for _, host := range removed {
			if w.Pool.Running(host) {
				stillRunning = true
				break
			}
		}
		if !stillRunning {
			break
		}
		time.Sleep(RemovalPollInterval)
	}

	next := oldSnapshot.Next(newCfg)
	w.GS.ResetSiteStatus()
	w.GS.SwapSnapshot(next)

	for host, rt := range indexRemoteAndDir(newCfg) {
		w.GS.SetSiteState(host, rt)
	}

	for i := range newCfg.HostedProcesses {
		proc := &newCfg.HostedProcesses[i]
		if old, existed := oldByHost[proc.HostName]; existed && old.Unchanged(proc) {
			proc.ProcID = old.ProcID
			proc.ActivePort = old.ActivePort
			continue
		}
		w.Pool.Spawn(proc, newCfg.DefaultLogFormat, newCfg.EnvVars)
	}

	if w.GS.Metrics != nil {
		w.GS.Metrics.ReloadTotal.Inc()
	}
	w.Log.Info("configuration reloaded", zap.Uint64("generation", next.InternalVersion))
}

func indexHostedProcesses(cfg *config.Config) map[string]*config.HostedProcess {
	out := make(map[string]*config.HostedProcess, len(cfg.HostedProcesses))
	for i := range cfg.HostedProcesses {
		out[cfg.HostedProcesses[i].HostName] = &cfg.HostedProcesses[i]
	}
	return out
}

func indexRemoteAndDir(cfg *config.Config) map[string]globalstate.SiteState {
	out := make(map[string]globalstate.SiteState, len(cfg.RemoteTargets)+len(cfg.DirServers))
	for _, r := range cfg.RemoteTargets {
		out[r.HostName] = globalstate.SiteRemote
	}
	for _, d := range cfg.DirServers {
		out[d.HostName] = globalstate.SiteDirSrv
	}
	return out
}
