package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/azeroth-sniper/internal/services"
	"github.com/akagifreeez/azeroth-sniper/internal/workers"
)

type fakeStatus struct{}

func (fakeStatus) Status(context.Context) workers.Status {
	return workers.Status{State: workers.StateWait, Region: "EU", Timers: 42, NextUpdates: []int{13, 44}}
}

func newTestServer(t *testing.T, secret string) (*httptest.Server, *services.ProgressHub, *int32) {
	t.Helper()
	hub := services.NewProgressHub(8)
	var stops int32
	h := NewControlHandler(fakeStatus{}, hub, func() { atomic.AddInt32(&stops, 1) })
	srv := httptest.NewServer(NewRouter(h, secret))
	t.Cleanup(srv.Close)
	return srv, hub, &stops
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status workers.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, workers.StateWait, status.State)
	assert.Equal(t, 42, status.Timers)
	assert.Equal(t, []int{13, 44}, status.NextUpdates)
}

func TestStop_OneShot(t *testing.T) {
	srv, _, stops := newTestServer(t, "")

	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/stop", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(stops))
}

func TestStop_RequiresToken(t *testing.T) {
	srv, _, stops := newTestServer(t, "s3cret")

	resp, err := http.Post(srv.URL+"/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := IssueToken("other", "ops", time.Minute)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/stop", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(stops))

	good, err := IssueToken("s3cret", "ops", time.Minute)
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/stop", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(stops))
}

func TestProgressWebsocket(t *testing.T) {
	srv, hub, _ := newTestServer(t, "")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(services.ProgressEvent{Type: services.EventScan, RunID: "run-1", Message: "scan started"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev services.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, services.EventScan, ev.Type)
}

func TestProgressWebsocket_ReplaysLastEvent(t *testing.T) {
	srv, hub, _ := newTestServer(t, "")
	hub.Publish(services.ProgressEvent{Type: services.EventState, State: "wait", Message: "no eligible sources"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev services.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, services.EventState, ev.Type)
	assert.Equal(t, "wait", ev.State)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
