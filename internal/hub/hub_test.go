package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/store"
)

type envelope struct {
	Type    game.EventType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func setup(t *testing.T) (*game.Engine, *Hub, string) {
	t.Helper()
	opts := game.DefaultOptions()
	opts.PinHashCost = bcrypt.MinCost
	opts.StarterProgram = "// starter"
	e := game.New(opts, store.NewMemoryStore())
	h := New(e, nil)
	e.AddSink(h)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return e, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor reads until a message of type typ arrives.
func waitFor(t *testing.T, conn *websocket.Conn, typ game.EventType) envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", typ)
		if env.Type == typ {
			return env
		}
	}
}

func sendJoin(t *testing.T, conn *websocket.Conn, id, pin string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "join",
		"payload": JoinPayload{ParticipantID: id, Pin: pin},
	}))
}

func TestConnectReceivesState(t *testing.T) {
	e, _, url := setup(t)
	_, _, err := e.Join(context.Background(), "alice", "1234")
	require.NoError(t, err)

	conn := dial(t, url)
	env := waitFor(t, conn, game.EventGameState)
	var st game.State
	require.NoError(t, json.Unmarshal(env.Payload, &st))
	require.Len(t, st.Participants, 1)
	assert.Equal(t, "alice", st.Participants[0].Name)
}

func TestJoinBindsConnection(t *testing.T) {
	e, h, url := setup(t)
	alice, _, err := e.Join(context.Background(), "alice", "1234")
	require.NoError(t, err)

	conn := dial(t, url)
	waitFor(t, conn, game.EventGameState)
	sendJoin(t, conn, alice.ID(), "1234")

	env := waitFor(t, conn, game.EventProgramChanged)
	var prog game.ProgramPayload
	require.NoError(t, json.Unmarshal(env.Payload, &prog))
	assert.Equal(t, "// starter", prog.Code)

	env = waitFor(t, conn, game.EventLog)
	var line game.LogPayload
	require.NoError(t, json.Unmarshal(env.Payload, &line))
	assert.Contains(t, line.Message, "alice")

	// participant-scoped events now reach this connection
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.byParticipant[alice.ID()]) == 1
	}, time.Second, 5*time.Millisecond)
	e.Log(alice.ID(), "direct", game.LevelWarn)
	env = waitFor(t, conn, game.EventLog)
	require.NoError(t, json.Unmarshal(env.Payload, &line))
	assert.Equal(t, "direct", line.Message)
	assert.Equal(t, game.LevelWarn, line.Level)
}

func TestParticipantEventsAreScoped(t *testing.T) {
	e, _, url := setup(t)
	ctx := context.Background()
	alice, _, err := e.Join(ctx, "alice", "1234")
	require.NoError(t, err)
	bobby, _, err := e.Join(ctx, "bobby", "5678")
	require.NoError(t, err)

	ca := dial(t, url)
	cb := dial(t, url)
	waitFor(t, ca, game.EventGameState)
	waitFor(t, cb, game.EventGameState)
	sendJoin(t, ca, alice.ID(), "1234")
	sendJoin(t, cb, bobby.ID(), "5678")
	waitFor(t, ca, game.EventLog)
	waitFor(t, cb, game.EventLog)

	e.Log(alice.ID(), "for alice", game.LevelInfo)
	e.Log(bobby.ID(), "for bobby", game.LevelInfo)

	var line game.LogPayload
	require.NoError(t, json.Unmarshal(waitFor(t, ca, game.EventLog).Payload, &line))
	assert.Equal(t, "for alice", line.Message)
	require.NoError(t, json.Unmarshal(waitFor(t, cb, game.EventLog).Payload, &line))
	assert.Equal(t, "for bobby", line.Message)

	// broadcasts reach both
	e.SendState()
	waitFor(t, ca, game.EventGameState)
	waitFor(t, cb, game.EventGameState)
}

func TestBadPinGetsEmptyStateAndClose(t *testing.T) {
	e, h, url := setup(t)
	alice, _, err := e.Join(context.Background(), "alice", "1234")
	require.NoError(t, err)

	conn := dial(t, url)
	waitFor(t, conn, game.EventGameState)
	sendJoin(t, conn, alice.ID(), "9999")

	env := waitFor(t, conn, game.EventGameState)
	var st game.State
	require.NoError(t, json.Unmarshal(env.Payload, &st))
	assert.Empty(t, st.Participants)
	assert.Empty(t, st.Pieces)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)

	assert.Eventually(t, func() bool { return h.ConnCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestUnknownParticipantRefused(t *testing.T) {
	_, _, url := setup(t)
	conn := dial(t, url)
	waitFor(t, conn, game.EventGameState)
	sendJoin(t, conn, "nobody", "1234")
	waitFor(t, conn, game.EventGameState)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestDisconnectUnregisters(t *testing.T) {
	_, h, url := setup(t)
	conn := dial(t, url)
	waitFor(t, conn, game.EventGameState)
	assert.Equal(t, 1, h.ConnCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ConnCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	opts := game.DefaultOptions()
	opts.PinHashCost = bcrypt.MinCost
	e := game.New(opts, store.NewMemoryStore())
	h := New(e, AllowOrigins("http://localhost:5173/"))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	hdr := http.Header{}
	hdr.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	hdr.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	conn.Close()

	// no Origin header: not a browser
	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestAllowOriginsWildcard(t *testing.T) {
	check := AllowOrigins("*")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://anywhere.example")
	assert.True(t, check(r))
}
