package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (h *Hub) subscribers() int {
	n := 0
	h.clients.Range(func(_, _ any) bool { n++; return true })
	return n
}

func TestProgressStreamDeliversOwnScanPhases(t *testing.T) {
	hub := NewHub(defaultAuth(), "*", zap.NewNop())
	srv := New(Deps{Auth: defaultAuth(), Analyzer: &fakeAnalyzer{}, Progress: hub}, "*", zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token := signToken(t, "u1", time.Now().Add(time.Hour))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?scan_id=s1&access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return hub.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish("u1", "s2", "scored")
	hub.Publish("u2", "s1", "scored")
	hub.Publish("u1", "s1", "fetched")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg progressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, progressMessage{Type: "phase", Data: phaseEvent{ScanID: "s1", Phase: "fetched"}}, msg)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestProgressStreamRequiresAuth(t *testing.T) {
	hub := NewHub(defaultAuth(), "*", zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/ws?scan_id=s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProgressStreamRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(defaultAuth(), "https://app.glowscan.example", zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	header := http.Header{"Origin": {"https://evil.example"}}
	token := signToken(t, "u1", time.Now().Add(time.Hour))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?access_token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
