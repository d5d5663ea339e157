package resultserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	gwebsocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
)

func TestHandleSummaryReportsTrackedRuns(t *testing.T) {
	s := New(":0")
	counters := &result.Counters{}
	counters.Add(result.TPASS)
	counters.Add(result.TFAIL)
	s.Track("run-1", counters)

	req := httptest.NewRequest(http.MethodGet, "/api/results/summary", nil)
	rec := httptest.NewRecorder()
	s.handleSummary(rec, req)

	var out []runSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "run-1", out[0].RunID)
	require.EqualValues(t, 1, out[0].Pass)
	require.EqualValues(t, 1, out[0].Fail)
}

func TestHandleRunSummaryUnknownRunReturnsNotFound(t *testing.T) {
	s := New(":0")
	req := httptest.NewRequest(http.MethodGet, "/api/results/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"run_id": "missing"})
	rec := httptest.NewRecorder()
	s.handleRunSummary(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishBroadcastsToWebSocketClients(t *testing.T) {
	s := New(":0")
	go s.hub()

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()
	wsURL := "ws" + srv.URL[len("http"):] + "/ws"

	conn, _, err := gwebsocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the hub goroutine time to register the client before publishing.
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	s.Publish(resultlog.ResultEvent{RunID: "run-1", Test: "tcindex01", Case: 1, Kind: "TPASS", Message: "ok", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got ResultEvent
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "TPASS", got.Kind)
}
