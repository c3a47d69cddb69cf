package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var upgrader = websocket.Upgrader{}

// fakePlatform answers Logon and replays scripted frames for everything else.
type fakePlatform struct {
	t      *testing.T
	handle func(conn *websocket.Conn, req frame)
}

func (p *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("upgrade: %v", err)
		return
	}
	for {
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method == methodLogon {
			user, _ := json.Marshal(User{ID: "u-1", DisplayName: "Test User"})
			_ = conn.WriteJSON(frame{ID: req.ID, Result: user})
			continue
		}
		if p.handle != nil {
			p.handle(conn, req)
		}
	}
}

func newTestClient(t *testing.T, handle func(conn *websocket.Conn, req frame)) *WSClient {
	t.Helper()
	srv := httptest.NewServer(&fakePlatform{t: t, handle: handle})
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	c := NewWSClient(host, "client-1", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"}), nil)
	// httptest has no TLS listener.
	c.wsScheme = "ws"
	return c
}

func TestLogonAndCall(t *testing.T) {
	c := newTestClient(t, func(conn *websocket.Conn, req frame) {
		if req.Method == methodGetDevices {
			devices, _ := json.Marshal([]Device{{ClientID: "d-1", Type: DeviceWeb}})
			_ = conn.WriteJSON(frame{ID: req.ID, Result: devices})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := c.Logon(ctx)
	require.NoError(t, err)
	require.Equal(t, "Test User", user.DisplayName)
	require.Equal(t, "u-1", c.LoggedOnUser().ID)

	devices, err := c.GetDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, DeviceWeb, devices[0].Type)

	require.NoError(t, c.Logout(ctx))
	// Calls after teardown fail fast.
	_, err = c.GetDevices(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestLogonRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	c := NewWSClient(host, "client-1", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "bad"}), nil)
	c.wsScheme = "ws"

	_, err := c.Logon(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestSearchEventFanout(t *testing.T) {
	c := newTestClient(t, func(conn *websocket.Conn, req frame) {
		if req.Method != methodStartUserSearch {
			return
		}
		id, _ := json.Marshal(struct {
			SearchID string `json:"searchId"`
		}{SearchID: "s-1"})
		_ = conn.WriteJSON(frame{ID: req.ID, Result: id})

		result, _ := json.Marshal(SearchResult{SearchID: "s-1", UserIDs: []string{"u-2"}})
		_ = conn.WriteJSON(frame{Event: eventBasicSearchResults, Data: result})
		status, _ := json.Marshal(SearchStatus{SearchID: "s-1", Status: SearchFinished})
		_ = conn.WriteJSON(frame{Event: eventSearchStatus, Data: status})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Logon(ctx)
	require.NoError(t, err)

	events, unsubscribe := c.SubscribeSearch()
	defer unsubscribe()

	searchID, err := c.StartUserSearch(ctx, "ann")
	require.NoError(t, err)
	require.Equal(t, "s-1", searchID)

	var gotResult, gotTerminal bool
	deadline := time.After(3 * time.Second)
	for !gotTerminal {
		select {
		case evt := <-events:
			if evt.Result != nil {
				require.Equal(t, []string{"u-2"}, evt.Result.UserIDs)
				gotResult = true
			}
			if evt.Status != nil && evt.Status.Terminal() {
				gotTerminal = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for search events")
		}
	}
	require.True(t, gotResult)
}

func TestTeardownSkipsSettledCalls(t *testing.T) {
	c := NewWSClient("example.com", "client-1", nil, nil)

	// A response already sits in the buffered slot but its caller is gone
	// (gave up via the done channel). Teardown must not block on it.
	settled := make(chan pendingCall, 1)
	settled <- pendingCall{result: json.RawMessage(`{}`)}
	c.mu.Lock()
	c.pending["abandoned"] = settled
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.teardown(ErrClosed)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("teardown blocked on a settled call")
	}
}

func TestDecorateDirectConversation(t *testing.T) {
	c := NewWSClient("example.com", "client-1", nil, nil)
	c.user = User{ID: "me"}

	conv := Conversation{Type: ConversationDirect, Participants: []string{"me", "peer"}}
	c.decorateDirect(&conv)
	require.Equal(t, "peer", conv.PeerUserID)

	group := Conversation{Type: ConversationGroup, Participants: []string{"me", "a", "b"}}
	c.decorateDirect(&group)
	require.Empty(t, group.PeerUserID)
}
