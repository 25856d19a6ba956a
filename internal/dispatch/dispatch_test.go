package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/peek"
)

func newTestState(t *testing.T) *globalstate.GlobalState {
	t.Helper()
	return globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
}

func TestMatch_ExactAndWildcard(t *testing.T) {
	sites := []Site{
		{HostName: "api.example.com"},
		{HostName: "example.com", CaptureSubdomains: true},
	}

	s, label, ok := Match(sites, "api.example.com")
	require.True(t, ok)
	assert.Equal(t, "api.example.com", s.HostName)
	assert.Empty(t, label)

	s, label, ok = Match(sites, "tenant1.example.com:443")
	require.True(t, ok)
	assert.Equal(t, "example.com", s.HostName)
	assert.Equal(t, "tenant1", label)

	_, _, ok = Match(sites, "unrelated.test")
	assert.False(t, ok)
}

func TestSelectBackend_RoundRobinDeterministic(t *testing.T) {
	gs := newTestState(t)
	backends := []config.Backend{
		{Address: "10.0.0.1", Port: 1},
		{Address: "10.0.0.2", Port: 2},
		{Address: "10.0.0.3", Port: 3},
	}

	var picked []string
	for i := 0; i < 6; i++ {
		b, ok := SelectBackend(gs, "svc.local", backends, FilterAny)
		require.True(t, ok)
		picked = append(picked, b.Address)
	}
	assert.Equal(t, []string{
		"10.0.0.1", "10.0.0.2", "10.0.0.3",
		"10.0.0.1", "10.0.0.2", "10.0.0.3",
	}, picked)
}

func TestSelectBackend_EmptyFilterYieldsNone(t *testing.T) {
	gs := newTestState(t)
	backends := []config.Backend{{Address: "10.0.0.1", HTTPS: false}}
	_, ok := SelectBackend(gs, "svc.local", backends, FilterAnyTLS)
	assert.False(t, ok)
}

func TestDecide_SchemeMismatchTunnelsWithTerminationOfIncomingLeg(t *testing.T) {
	plaintextOnly := Site{
		HostName: "svc.local",
		Backends: []config.Backend{{Address: "127.0.0.1", Port: 9000, HTTPS: false}},
	}
	httpsOnly := Site{
		HostName: "svc.local",
		Backends: []config.Backend{{Address: "127.0.0.1", Port: 9443, HTTPS: true}},
	}

	d := Decide(peek.PeekResult{Type: peek.TypeTLS, TargetHost: "svc.local"}, true, plaintextOnly)
	assert.Equal(t, DispositionTunnelSchemeMismatch, d)

	d = Decide(peek.PeekResult{Type: peek.TypeClearText, TargetHost: "svc.local"}, false, httpsOnly)
	assert.Equal(t, DispositionTunnelSchemeMismatch, d)
}

func TestDecide_DisableTCPTunnelModeAlwaysTerminates(t *testing.T) {
	site := Site{
		HostName:             "svc.local",
		DisableTCPTunnelMode: true,
		Backends:             []config.Backend{{Address: "127.0.0.1", Port: 9000, HTTPS: false}},
	}
	d := Decide(peek.PeekResult{Type: peek.TypeClearText, TargetHost: "svc.local"}, false, site)
	assert.Equal(t, DispositionTerminate, d)
}

func TestComputeFilter_MatchesSpecTable(t *testing.T) {
	assert.Equal(t, FilterH2CPriorKnowledge, ComputeFilter(peek.Version2, false, false))
	assert.Equal(t, FilterH2C, ComputeFilter(peek.Version11, false, true))
	assert.Equal(t, FilterHttp2, ComputeFilter(peek.Version2, true, false))
	assert.Equal(t, FilterHttp1, ComputeFilter(peek.Version11, false, false))
	assert.Equal(t, FilterAnyTLS, ComputeFilter(peek.VersionNone, true, false))
}

func TestAwaitColdStart_TimesOutWhenNeverRunning(t *testing.T) {
	gs := newTestState(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// Drain the Start message AwaitColdStart publishes on the control
	// bus while this test holds a subscription to it.
	ch, unsub := gs.ProcControl().Subscribe()
	defer unsub()
	go func() {
		<-ch
	}()

	ok := AwaitColdStart(ctx, gs, "slow.local")
	assert.False(t, ok)
}

func TestAwaitColdStart_SucceedsOnceRunning(t *testing.T) {
	gs := newTestState(t)
	ch, unsub := gs.ProcControl().Subscribe()
	defer unsub()
	go func() {
		<-ch
		gs.SetSiteState("fast.local", globalstate.SiteRunning)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	ok := AwaitColdStart(ctx, gs, "fast.local")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), ColdStartGrace)
}
