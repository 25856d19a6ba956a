package termproxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHopByHopHeaders_RemovesFixedSetAndConnectionNamed(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, Keep-Alive")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Custom", "drop-me")
	h.Set("Upgrade", "h2c")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Content-Type", "text/plain")

	StripHopByHopHeaders(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Upgrade"))
	assert.Empty(t, h.Get("Upgrade-Insecure-Requests"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
}

func TestReinjectUpgradeHeaders(t *testing.T) {
	h := http.Header{}
	ReinjectUpgradeHeaders(h, "h2c")
	assert.Equal(t, "h2c", h.Get("Upgrade"))
	assert.Equal(t, "Upgrade", h.Get("Connection"))
}
