package termproxy

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// isWebSocketUpgrade detects a WebSocket handshake on the first
// request of a connection (spec §4.4).
func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, tok := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// ServeWebSocket performs the server-side upgrade on r, opens a
// client WebSocket to the selected backend, and pumps messages in
// both directions until either side closes (spec §4.4).
func (s *Service) ServeWebSocket(w http.ResponseWriter, r *http.Request, site, capturedLabel string, backend config.Backend, rec *globalstate.ConnectionRecord) {
	outboundHost := backend.Address
	if capturedLabel != "" {
		outboundHost = capturedLabel + "." + backend.Address
	}
	scheme := "ws"
	if backend.HTTPS {
		scheme = "wss"
	}
	backendURL := fmt.Sprintf("%s://%s:%d%s", scheme, outboundHost, backend.Port, r.URL.RequestURI())

	origin := fmt.Sprintf("http://%s", r.Host)
	wsConfig, err := websocket.NewConfig(backendURL, origin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	websocket.Handler(func(clientWS *websocket.Conn) {
		backendWS, err := websocket.DialConfig(wsConfig)
		if err != nil {
			clientWS.Close()
			return
		}
		defer backendWS.Close()

		done := make(chan struct{}, 2)
		go pumpWS(clientWS, backendWS, done)
		go pumpWS(backendWS, clientWS, done)
		<-done
	}).ServeHTTP(w, r)

	if rec != nil {
		rec.Close()
	}
}

func pumpWS(dst, src *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	var msg []byte
	for {
		if err := websocket.Message.Receive(src, &msg); err != nil {
			return
		}
		if err := websocket.Message.Send(dst, msg); err != nil {
			return
		}
	}
}
