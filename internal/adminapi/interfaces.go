// Package adminapi names the seams between the core engine and the
// components spec §1 treats as external collaborators: the admin
// HTTP/WebSocket surface, the static directory handler, and the
// Docker discovery loop. None of these are implemented here; the core
// only needs to know the shape it can call into, the same way the
// teacher's module system lets a concrete implementation be swapped in
// without the caller depending on it.
package adminapi

import (
	"context"
	"net/http"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// AdminRouter serves the admin HTTP/WebSocket surface described in
// spec §1 ("out of scope ... specified only by the interfaces the
// core uses"): site status, log tailing, and process control submit
// through GlobalState, not through this interface directly, but the
// router still needs a handle to it to read status and subscribe to
// log/observer broadcasts.
type AdminRouter interface {
	http.Handler

	// Attach wires the router to the running engine's shared state
	// once, before it starts accepting requests.
	Attach(gs *globalstate.GlobalState)
}

// DirServerHandler serves a DirServer site's configured directory,
// including the optional directory listing and markdown rendering
// toggles on config.DirServer. The dispatcher only needs to know that
// something can answer for a matched DirServer site; it does not parse
// or serve files itself.
type DirServerHandler interface {
	ServeDirSite(w http.ResponseWriter, r *http.Request, site config.DirServer)
}

// DockerWatcher discovers containers exposing the labels the original
// implementation used for automatic site registration and publishes
// them as synthetic RemoteSite entries, reported through the apply
// callback passed to Watch.
type DockerWatcher interface {
	// Watch runs until ctx is cancelled, calling apply with a freshly
	// observed set of container-derived sites whenever membership
	// changes.
	Watch(ctx context.Context, apply func([]config.RemoteSite)) error
}
