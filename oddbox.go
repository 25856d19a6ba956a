// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oddbox

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/certs"
	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/reload"
	"github.com/oddbox-proxy/oddbox/internal/supervisor"
)

// App is the top-level, explicitly constructed instance that replaces
// the teacher's package-level singletons: one GlobalState, one
// supervisor pool, one reload watcher, one pair of listeners.
type App struct {
	GS        *globalstate.GlobalState
	Pool      *supervisor.Pool
	Resolver  *certs.Resolver
	Watcher   *reload.Watcher
	Listeners *listeners
	Log       *zap.Logger
}

// LoadApp reads and validates the config at path, then wires every
// component against a single GlobalState (spec §9's "Global state &
// singletons" redesign).
func LoadApp(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, _ := newLogger(cfg.LogLevel)
	reg := metrics.NewRegistry(nil)
	gs := globalstate.New(log, reg, cfg)

	rootDir := cfg.RootDir
	if rootDir == "" {
		rootDir, _ = os.Getwd()
	}
	cfgDir := filepath.Dir(path)
	cacheRoot := filepath.Join(rootDir, ".odd_box_cache")

	// Reads the live snapshot on every call, not the Config loaded once
	// here, so a hot reload (internal/reload.go swaps in an entirely
	// new *Config via SwapSnapshot rather than mutating this one) is
	// reflected immediately — spec §4.10 step 9.
	acmeEnabled := func(hostname string) bool {
		live := gs.Snapshot().Cfg
		for _, s := range live.RemoteTargets {
			if s.HostName == hostname {
				return s.EnableLetsEncrypt != nil && *s.EnableLetsEncrypt
			}
		}
		for _, s := range live.HostedProcesses {
			if s.HostName == hostname {
				return s.EnableLetsEncrypt != nil && *s.EnableLetsEncrypt
			}
		}
		for _, s := range live.DirServers {
			if s.HostName == hostname {
				return s.EnableLetsEncrypt != nil && *s.EnableLetsEncrypt
			}
		}
		return false
	}
	resolver := certs.NewResolver(cacheRoot, acmeEnabled, log)

	pool := supervisor.NewPool(gs, rootDir, cfgDir, cfg.PortRangeStart, log)
	watcher := reload.New(path, gs, pool, rootDir, log)
	lns := newListeners(gs, resolver, log)

	return &App{GS: gs, Pool: pool, Resolver: resolver, Watcher: watcher, Listeners: lns, Log: log}, nil
}

// Run binds the listeners, starts every auto_start hosted process,
// begins watching the config file, and blocks until the process
// receives an interrupt/term signal or ctx is cancelled.
func (a *App) Run(ctx context.Context, ip string, httpPort, tlsPort uint16) error {
	if err := a.Listeners.Bind(ip, httpPort, tlsPort); err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Listeners.Serve(serveCtx)

	cfg := a.GS.Snapshot().Cfg
	for i := range cfg.HostedProcesses {
		a.Pool.Spawn(&cfg.HostedProcesses[i], cfg.DefaultLogFormat, cfg.EnvVars)
	}
	a.GS.ProcControl().Publish(globalstate.StartAll())

	stop := make(chan struct{})
	go func() {
		if err := a.Watcher.Run(stop); err != nil {
			a.Log.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
	case <-ctx.Done():
	}

	return a.Stop()
}

// shutdownPollInterval is how often Stop checks whether every
// supervisor task has exited while waiting out its bounded timer.
const shutdownPollInterval = 200 * time.Millisecond

// Stop implements spec §5's graceful shutdown: flip the exit flag so
// listeners reject new accepts, tell every supervisor to stop, then
// wait for all supervisors to drop, bounded by a diagnostic timer
// rather than always sleeping out the full bound.
func (a *App) Stop() error {
	a.GS.BeginExit()
	a.Listeners.Close()
	a.GS.ProcControl().Publish(globalstate.StopAll())

	deadline := time.Now().Add(15 * time.Second)
	for a.Pool.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(shutdownPollInterval)
	}
	if n := a.Pool.Count(); n > 0 {
		a.Log.Warn("shutdown timed out waiting for supervisors to exit", zap.Int("remaining", n))
	}
	return nil
}
