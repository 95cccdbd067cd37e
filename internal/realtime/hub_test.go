package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prizedraw/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub, ownerID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, ownerID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Subscribers(ownerID) > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestPublishReachesOnlyTheOwner(t *testing.T) {
	h := NewHub([]string{"*"})
	defer h.Close()
	mine := dial(t, h, "owner-a")
	theirs := dial(t, h, "owner-b")

	prize := models.Prize{ID: "p1", Name: "Bike", TotalCount: 1}
	h.Publish("owner-a", models.Event{
		Type:    models.EventDraw,
		Prize:   &prize,
		Winners: []models.Winner{{ID: "w1", ParticipantName: "Alice", PrizeName: "Bike"}},
	})
	h.Publish("owner-b", models.Event{Type: models.EventReset})

	ev := readEvent(t, mine)
	assert.Equal(t, models.EventDraw, ev.Type)
	require.Len(t, ev.Winners, 1)
	assert.Equal(t, "Alice", ev.Winners[0].ParticipantName)
	assert.Equal(t, "Bike", ev.Prize.Name)

	assert.Equal(t, models.EventReset, readEvent(t, theirs).Type)
}

func TestClosedClientIsForgotten(t *testing.T) {
	h := NewHub(nil)
	conn := dial(t, h, "owner-a")
	require.Equal(t, 1, h.Subscribers("owner-a"))

	conn.Close()
	assert.Eventually(t, func() bool { return h.Subscribers("owner-a") == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing to nobody is fine.
	h.Publish("owner-a", models.Event{Type: models.EventClear})
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil)
	conn := dial(t, h, "owner-a")
	h.Close()
	assert.Equal(t, 0, h.Subscribers("owner-a"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestOriginCheck(t *testing.T) {
	h := NewHub([]string{"http://screen.example"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "owner-a")
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://screen.example"}})
	require.NoError(t, err)
	conn.Close()
}
