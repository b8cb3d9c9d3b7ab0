package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pvsim/pvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebsocketStream(t *testing.T) {
	store := newMemoryStore(t,
		types.Site{ID: "site-1", CapacityKW: 5},
		types.Site{ID: "site-2", CapacityKW: 5},
	)
	srv := newTestServer(t, store)
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?siteId=site-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.publisher.Count())

	// site-2 events are filtered out of this stream
	resp, err := http.Post(ts.URL+"/api/sites/site-2/simulation/start?intervalMs=60000", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/sites/site-1/simulation/start?intervalMs=100", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := readEvent(t, conn)
	assert.Equal(t, "STATUS", status["type"])
	assert.Equal(t, "site-1", status["siteId"])
	assert.Equal(t, true, status["running"])

	var last time.Time
	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn)
		assert.Equal(t, "SAMPLE", ev["type"])
		assert.Equal(t, "site-1", ev["siteId"])
		for _, k := range []string{"powerKw", "irradiance", "temp"} {
			assert.Contains(t, ev, k)
		}
		at, err := time.Parse(time.RFC3339Nano, ev["timestamp"].(string))
		require.NoError(t, err)
		assert.True(t, at.After(last))
		last = at
	}

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return srv.publisher.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketPublisherClosed(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(t))
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	srv.publisher.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}

func TestWebsocketOrigin(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(t))
	srv.allowedOrigins = []string{"https://dash.example.com"}
	ts := httptest.NewServer(srv.setupHandler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return srv.publisher.Count() == 0
	}, time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), http.Header{"Origin": {"https://dash.example.com"}})
	require.NoError(t, err)
	conn.Close()
}

func TestCheckOrigin(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(t))
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, srv.checkOrigin(req), "no allow-list accepts any origin")

	srv.allowedOrigins = []string{"dash.example.com"}
	assert.False(t, srv.checkOrigin(req))
	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, srv.checkOrigin(req), "hosts match without the scheme")
	req.Header.Del("Origin")
	assert.True(t, srv.checkOrigin(req))
}
