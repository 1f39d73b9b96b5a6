package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/models"
)

func wsURL(ts *testServer, query string) string {
	u := strings.Replace(ts.http.URL, "http://", "ws://", 1) + "/ws/events"
	if query != "" {
		u += "?" + query
	}
	return u
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketHelloAndLiveEvents(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "workflow_id="+id), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, ctx, conn)
	assert.Equal(t, "connection.established", hello["type"])
	assert.NotEmpty(t, hello["connection_id"])

	require.NoError(t, ts.bus.Emit(context.Background(), &models.Event{
		WorkflowID: id,
		EventType:  models.EventAgentOutput,
		Message:    "streamed",
	}))

	frame := readFrame(t, ctx, conn)
	assert.Equal(t, string(models.EventAgentOutput), frame["event_type"])
	assert.Equal(t, "streamed", frame["message"])
}

func TestWebSocketDefaultsToLiveTail(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	// Pre-existing history: workflow_created plus two output events.
	for i := 0; i < 2; i++ {
		require.NoError(t, ts.bus.Emit(context.Background(), &models.Event{
			WorkflowID: id,
			EventType:  models.EventAgentOutput,
			Message:    "history",
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// No since_sequence cursor: the backlog is not replayed.
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "workflow_id="+id), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, ctx, conn)
	require.Equal(t, "connection.established", hello["type"])

	require.NoError(t, ts.bus.Emit(context.Background(), &models.Event{
		WorkflowID: id,
		EventType:  models.EventAgentOutput,
		Message:    "live",
	}))

	frame := readFrame(t, ctx, conn)
	assert.Equal(t, "live", frame["message"])
	assert.Equal(t, float64(4), frame["sequence"])
}

func TestWebSocketReplayFromCursor(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createQueued(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, ts.bus.Emit(context.Background(), &models.Event{
			WorkflowID: id,
			EventType:  models.EventAgentOutput,
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The workflow_created event is sequence 1; resume after sequence 2.
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "workflow_id="+id+"&since_sequence=2"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, ctx, conn)
	require.Equal(t, "connection.established", hello["type"])

	for want := 3; want <= 4; want++ {
		frame := readFrame(t, ctx, conn)
		assert.Equal(t, float64(want), frame["sequence"])
	}
}

func TestWebSocketSinceSequenceValidation(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts, "since_sequence=5"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestWebSocketHeartbeat(t *testing.T) {
	ts := newTestServer(t)

	// Idle timeout of one second so the test observes a heartbeat quickly.
	one := 1
	_, err := ts.store.Settings.Update(context.Background(), models.SettingsPatch{
		WebsocketIdleTimeoutSeconds: &one,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, ""), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readFrame(t, ctx, conn)
	require.Equal(t, "connection.established", hello["type"])

	frame := readFrame(t, ctx, conn)
	assert.Equal(t, "heartbeat", frame["type"])
}
