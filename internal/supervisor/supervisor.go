// Package supervisor runs one task per hosted process, reacting to
// cold-start and config-reload control messages on the shared
// broadcast bus rather than being driven directly by callers (spec
// §4.8), the same separation the teacher's restart/signal handling in
// caddy/restart.go keeps between the process owning a child and the
// rest of the application reacting to its lifecycle.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// FaultyBackoff is spec §7's retry delay after a spawn failure.
const FaultyBackoff = 5 * time.Second

// coldStartGrace mirrors dispatch.ColdStartGrace; duplicated here (a
// plain constant, not an import) to avoid a dependency from supervisor
// back onto dispatch.
const coldStartGrace = 3 * time.Second

// Pool owns the set of live per-site supervisor tasks and the shared
// port allocator, and is the entry point the reload reconciler and the
// startup sequence use to spawn and tear down tasks.
type Pool struct {
	gs       *globalstate.GlobalState
	rootDir  string
	cfgDir   string
	ports    *portAllocator
	log      *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

func NewPool(gs *globalstate.GlobalState, rootDir, cfgDir string, portRangeStart uint16, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		gs:      gs,
		rootDir: rootDir,
		cfgDir:  cfgDir,
		ports:   newPortAllocator(portRangeStart),
		log:     log,
		tasks:   make(map[string]*task),
	}
}

// Spawn starts (or, if one already exists, is a no-op for) the task
// supervising proc. It returns immediately; the task manages its own
// state machine in a background goroutine.
func (p *Pool) Spawn(proc *config.HostedProcess, defaultFormat config.LogFormat, globalEnv []config.EnvVar) {
	p.mu.Lock()
	if _, exists := p.tasks[proc.HostName]; exists {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		pool:        p,
		proc:        proc,
		defaultFmt:  defaultFormat,
		globalEnv:   globalEnv,
		gs:          p.gs,
		log:         p.log.With(zap.String("host", proc.HostName)),
		ctx:         ctx,
		cancel:      cancel,
		controlCh:   make(chan globalstate.ProcMessage, 8),
	}
	p.tasks[proc.HostName] = t
	p.mu.Unlock()

	control, unsub := p.gs.ProcControl().Subscribe()
	go t.forwardControl(control, unsub)
	go t.run()
}

// MarkForRemoval signals hostname's task to stop and forget itself;
// used by the reload reconciler for sites removed or materially
// changed across a reload (spec §4.10 step 4).
func (p *Pool) MarkForRemoval(hostname string, ack chan<- struct{}) {
	p.mu.Lock()
	t, ok := p.tasks[hostname]
	p.mu.Unlock()
	if !ok {
		if ack != nil {
			close(ack)
		}
		return
	}
	t.requestDelete(ack)
}

// Running reports whether hostname still has a live task (used by the
// reconciler's "wait for removal" poll, spec §4.10 step 5).
func (p *Pool) Running(hostname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[hostname]
	return ok
}

// Count reports how many tasks are still live, used by shutdown's
// "wait for all supervisors to drop" poll (spec §5).
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Pool) forget(hostname string) {
	p.mu.Lock()
	delete(p.tasks, hostname)
	p.mu.Unlock()
	p.ports.Release(hostname)
}

// task is one hosted process's state machine.
type task struct {
	pool       *Pool
	proc       *config.HostedProcess
	defaultFmt config.LogFormat
	globalEnv  []config.EnvVar
	gs         *globalstate.GlobalState
	log        *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	controlCh chan globalstate.ProcMessage

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	wantStop bool
}

func (t *task) forwardControl(src <-chan globalstate.ProcMessage, unsub func()) {
	defer unsub()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			if msg.Host != "" && msg.Host != t.proc.HostName {
				continue
			}
			switch msg.Kind {
			case globalstate.ProcStartAll, globalstate.ProcStopAll, globalstate.ProcStart, globalstate.ProcStop, globalstate.ProcDelete:
				select {
				case t.controlCh <- msg:
				case <-t.ctx.Done():
					return
				}
			}
		}
	}
}

func (t *task) requestDelete(ack chan<- struct{}) {
	t.controlCh <- globalstate.Delete(t.proc.HostName, ack)
}

func (t *task) setState(s globalstate.SiteState) {
	t.gs.SetSiteState(t.proc.HostName, s)
	if t.gs.Metrics != nil {
		t.gs.Metrics.SupervisorStateTotal.WithLabelValues(string(s)).Inc()
	}
}

// run is the task's main loop: Stopped until asked to start (or
// auto_start), Starting while the child is spawned, Running as soon as
// the process is alive (followed by a cold-start grace sleep), Stopping/Stopped on
// a controlled shutdown, and Faulty with a backoff retry on spawn
// failure (spec §4.8/§7).
func (t *task) run() {
	t.setState(globalstate.SiteStopped)
	defer t.pool.forget(t.proc.HostName)

	autoStart := t.proc.AutoStart != nil && *t.proc.AutoStart
	if autoStart {
		t.startChild()
	}

	for {
		select {
		case <-t.ctx.Done():
			t.stopChild()
			return
		case msg := <-t.controlCh:
			switch msg.Kind {
			case globalstate.ProcStartAll:
				excluded := t.proc.ExcludeFromStartAll != nil && *t.proc.ExcludeFromStartAll
				if !excluded {
					t.startChild()
				}
			case globalstate.ProcStart:
				t.startChild()
			case globalstate.ProcStopAll, globalstate.ProcStop:
				t.stopChild()
			case globalstate.ProcDelete:
				t.stopChild()
				if msg.Ack != nil {
					close(msg.Ack)
				}
				t.cancel()
				return
			}
		}
	}
}

func (t *task) startChild() {
	t.mu.Lock()
	alreadyRunning := t.cmd != nil
	t.mu.Unlock()
	if alreadyRunning {
		return
	}

	t.setState(globalstate.SiteStarting)

	port, err := t.pool.ports.Allocate(t.proc.HostName, portOf(t.proc.Port))
	if err != nil {
		t.log.Error("port allocation failed", zap.Error(err))
		t.fault()
		return
	}
	t.proc.ActivePort = &port

	bin := expandPath(t.proc.Bin, t.pool.rootDir, t.pool.cfgDir)
	args := make([]string, len(t.proc.Args))
	for i, a := range t.proc.Args {
		args[i] = expandPath(a, t.pool.rootDir, t.pool.cfgDir)
	}

	cmd := exec.Command(bin, args...)
	if t.proc.Dir != nil {
		cmd.Dir = expandPath(*t.proc.Dir, t.pool.rootDir, t.pool.cfgDir)
	}
	cmd.Env = buildEnv(t.globalEnv, t.proc.EnvVars, port)
	setDetached(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.log.Error("stdout pipe", zap.Error(err))
		t.fault()
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.log.Error("stderr pipe", zap.Error(err))
		t.fault()
		return
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.log.Error("stdin pipe", zap.Error(err))
		t.fault()
		return
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("spawn failed", zap.Error(err), zap.String("bin", bin))
		t.fault()
		return
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	format := t.defaultFmt
	if t.proc.LogFormat != nil {
		format = *t.proc.LogFormat
	}
	go t.pumpOutput(stdout, format)
	go t.pumpOutput(stderr, format)
	go t.awaitExit(cmd)

	t.setState(globalstate.SiteRunning)
	time.Sleep(coldStartGrace)
}

func (t *task) pumpOutput(r io.ReadCloser, format config.LogFormat) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		level := classifyLogLine(format, line)
		if ce := t.log.Check(level, line); ce != nil {
			ce.Write()
		}
	}
}

func (t *task) awaitExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	t.mu.Lock()
	wanted := t.wantStop
	t.cmd = nil
	t.stdin = nil
	t.wantStop = false
	t.mu.Unlock()

	if !wanted && err != nil {
		t.log.Warn("child exited unexpectedly", zap.Error(err))
		t.fault()
		return
	}
	if t.gs.SiteStateOf(t.proc.HostName) != globalstate.SiteStopping {
		return
	}
	t.setState(globalstate.SiteStopped)
}

// stopChild implements spec §4.8's stop sequence: write a single "q"
// byte to stdin for processes that request confirmation, then kill,
// then poll Wait.
func (t *task) stopChild() {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()
	if cmd == nil {
		return
	}

	t.setState(globalstate.SiteStopping)
	t.mu.Lock()
	t.wantStop = true
	t.mu.Unlock()

	if stdin != nil {
		_, _ = stdin.Write([]byte("q"))
	}

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		exited := t.cmd == nil
		t.mu.Unlock()
		if exited {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (t *task) fault() {
	t.setState(globalstate.SiteFaulty)
	t.pool.ports.Release(t.proc.HostName)
	go func() {
		select {
		case <-time.After(FaultyBackoff):
		case <-t.ctx.Done():
			return
		}
		if t.gs.SiteStateOf(t.proc.HostName) == globalstate.SiteFaulty {
			t.setState(globalstate.SiteStopped)
		}
	}()
}

func portOf(p *uint16) uint16 {
	if p == nil {
		return 0
	}
	return *p
}

// expandPath implements spec §4.8's substitution rule for $root_dir,
// $cfg_dir and a leading ~.
func expandPath(s, rootDir, cfgDir string) string {
	s = strings.ReplaceAll(s, "$root_dir", rootDir)
	s = strings.ReplaceAll(s, "$cfg_dir", cfgDir)
	if strings.HasPrefix(s, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, strings.TrimPrefix(s, "~"))
		}
	}
	return s
}

func buildEnv(global, local []config.EnvVar, port uint16) []string {
	merged := map[string]string{}
	for _, e := range os.Environ() {
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			merged[e[:idx]] = e[idx+1:]
		}
	}
	for _, e := range global {
		merged[e.Key] = e.Value
	}
	for _, e := range local {
		merged[e.Key] = e.Value
	}
	merged["PORT"] = fmt.Sprintf("%d", port)

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
