package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, c *websocket.Conn) Event {
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	ev := Event{}
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestBacklog(t *testing.T) {
	h := NewHub(logs.NewTestingLog(t), 3)
	for i := 0; i < 5; i++ {
		h.Publish(Event{ID: string(rune('a' + i))})
	}
	recent := h.Recent()
	require.Equal(t, 3, len(recent))
	require.Equal(t, "c", recent[0].ID)
	require.Equal(t, "e", recent[2].ID)
	require.Equal(t, "analysis", recent[2].Type)
}

func TestDefaultBacklog(t *testing.T) {
	h := NewHub(logs.NewTestingLog(t), DefaultBacklog)
	for i := 0; i < 25; i++ {
		h.Publish(Event{ID: strconv.Itoa(i)})
	}
	recent := h.Recent()
	require.Equal(t, DefaultBacklog, len(recent))
	require.Equal(t, "5", recent[0].ID)
	require.Equal(t, "24", recent[DefaultBacklog-1].ID)

	// A zero backlog falls back to the default
	h = NewHub(logs.NewTestingLog(t), 0)
	for i := 0; i < 40; i++ {
		h.Publish(Event{ID: strconv.Itoa(i)})
	}
	require.Equal(t, DefaultBacklog, len(h.Recent()))

	// Exact powers of two hold exactly that many
	h = NewHub(logs.NewTestingLog(t), 16)
	for i := 0; i < 40; i++ {
		h.Publish(Event{ID: strconv.Itoa(i)})
	}
	require.Equal(t, 16, len(h.Recent()))
}

func TestWebSocket(t *testing.T) {
	h := NewHub(logs.NewTestingLog(t), 10)
	h.Publish(Event{ID: "first", RiskScore: 3.5})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	ev := readEvent(t, c)
	require.Equal(t, "first", ev.ID)
	require.Equal(t, 3.5, ev.RiskScore)
	require.Equal(t, 1, h.NumSubscribers())

	h.Publish(Event{ID: "second", Anomalies: 2})
	ev = readEvent(t, c)
	require.Equal(t, "second", ev.ID)
	require.Equal(t, 2, ev.Anomalies)

	c.Close()
	require.Eventually(t, func() bool { return h.NumSubscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}
