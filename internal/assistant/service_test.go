package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/internal/collab"
	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/flow"
	"github.com/concordhq/concord/internal/search"
	"github.com/concordhq/concord/internal/session"
)

// fakeClient scripts the collaboration platform for handler tests. Searches
// complete synchronously: starting one pushes its result and a terminal status
// to every subscriber before returning.
type fakeClient struct {
	mu sync.Mutex

	user     collab.User
	logonErr error

	userHits map[string][]string // query -> user ids
	convHits map[string][]string // query -> conv ids
	users    map[string]collab.User
	convs    map[string]collab.Conversation
	direct   map[string]collab.Conversation // peer user id -> conversation
	devices  []collab.Device
	started  []collab.Call
	remote   []collab.Call
	presence collab.Presence
	status   string

	searchSeq int
	subs      []chan collab.SearchEvent

	userSearches int
	convSearches int

	sentItems    []string // "convId|text"
	added        []string // "convId|userId"
	removed      []string // "convId|userId"
	joined       []string
	left         []string
	clickToCalls []string // "email|clientId"
	loggedOut    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		user:     collab.User{ID: "self", DisplayName: "Test User", ClientID: "assistant-client"},
		userHits: map[string][]string{},
		convHits: map[string][]string{},
		users:    map[string]collab.User{},
		convs:    map[string]collab.Conversation{},
		direct:   map[string]collab.Conversation{},
	}
}

func (f *fakeClient) addUser(u collab.User, queries ...string) {
	f.users[u.ID] = u
	for _, q := range queries {
		f.userHits[q] = append(f.userHits[q], u.ID)
	}
}

func (f *fakeClient) Logon(context.Context) (collab.User, error) {
	if f.logonErr != nil {
		return collab.User{}, f.logonErr
	}
	return f.user, nil
}

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut++
	return nil
}

func (f *fakeClient) LoggedOnUser() collab.User { return f.user }

func (f *fakeClient) StartUserSearch(_ context.Context, query string) (string, error) {
	f.mu.Lock()
	f.userSearches++
	f.mu.Unlock()
	return f.finishSearch(func(id string) collab.SearchResult {
		return collab.SearchResult{SearchID: id, UserIDs: f.userHits[query]}
	})
}

func (f *fakeClient) StartConversationSearch(_ context.Context, query string) (string, error) {
	f.mu.Lock()
	f.convSearches++
	f.mu.Unlock()
	return f.finishSearch(func(id string) collab.SearchResult {
		return collab.SearchResult{SearchID: id, ConvIDs: f.convHits[query]}
	})
}

func (f *fakeClient) finishSearch(result func(id string) collab.SearchResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchSeq++
	id := fmt.Sprintf("search-%d", f.searchSeq)
	res := result(id)
	status := collab.SearchFinished
	if len(res.UserIDs) == 0 && len(res.ConvIDs) == 0 {
		status = collab.SearchNoResult
	}
	for _, sub := range f.subs {
		if len(res.UserIDs) > 0 || len(res.ConvIDs) > 0 {
			sub <- collab.SearchEvent{Result: &res}
		}
		sub <- collab.SearchEvent{Status: &collab.SearchStatus{SearchID: id, Status: status}}
	}
	return id, nil
}

func (f *fakeClient) SubscribeSearch() (<-chan collab.SearchEvent, func()) {
	ch := make(chan collab.SearchEvent, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs {
			if sub == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeClient) GetUsersByIDs(_ context.Context, ids []string) ([]collab.User, error) {
	out := make([]collab.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeClient) GetConversationsByIDs(_ context.Context, ids []string) ([]collab.Conversation, error) {
	out := make([]collab.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.convs[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClient) GetDirectConversationWithUser(_ context.Context, userID string, _ bool) (collab.Conversation, error) {
	if c, ok := f.direct[userID]; ok {
		return c, nil
	}
	c := collab.Conversation{
		ID:           "direct-" + userID,
		Type:         collab.ConversationDirect,
		Participants: []string{f.user.ID, userID},
		PeerUserID:   userID,
	}
	f.direct[userID] = c
	return c, nil
}

func (f *fakeClient) AddTextItem(_ context.Context, convID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentItems = append(f.sentItems, convID+"|"+text)
	return nil
}

func (f *fakeClient) AddParticipant(_ context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, convID+"|"+userID)
	return nil
}

func (f *fakeClient) RemoveParticipant(_ context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, convID+"|"+userID)
	return nil
}

func (f *fakeClient) GetStartedCalls(context.Context) ([]collab.Call, error)      { return f.started, nil }
func (f *fakeClient) GetActiveRemoteCalls(context.Context) ([]collab.Call, error) { return f.remote, nil }

func (f *fakeClient) JoinConference(_ context.Context, callID string) error {
	f.joined = append(f.joined, callID)
	return nil
}

func (f *fakeClient) LeaveConference(_ context.Context, callID string) error {
	f.left = append(f.left, callID)
	return nil
}

func (f *fakeClient) GetDevices(context.Context) ([]collab.Device, error) { return f.devices, nil }

func (f *fakeClient) SendClickToCallRequest(_ context.Context, email, clientID string) error {
	f.clickToCalls = append(f.clickToCalls, email+"|"+clientID)
	return nil
}

func (f *fakeClient) GetPresence(context.Context) (collab.Presence, error) { return f.presence, nil }

func (f *fakeClient) SetPresence(_ context.Context, state string) error {
	f.presence.State = state
	return nil
}

func (f *fakeClient) GetStatusMessage(context.Context) (string, error) { return f.status, nil }

func (f *fakeClient) SetStatusMessage(_ context.Context, message string) error {
	f.status = message
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(fc *fakeClient) *Service {
	log := discardLogger()
	sessions := session.NewManager(log, func(string, string) collab.Client { return fc }, time.Minute)
	resolver := search.NewResolver(log, nil, time.Second, 0.55)
	return NewService(log, sessions, resolver, 0.55)
}

func newTurn(intent string, params map[string]string, contexts ...dialog.Context) *dialog.Turn {
	return dialog.NewTurn(dialog.Request{
		Session:     "session-1",
		UserID:      "alice@example.com",
		AccessToken: "token-1",
		Intent:      intent,
		Parameters:  params,
		Contexts:    contexts,
	})
}

// carry extracts the contexts a reply would hand to the next request.
func carry(resp dialog.Response) []dialog.Context {
	var out []dialog.Context
	for _, c := range resp.Contexts {
		if c.Lifespan > 0 {
			out = append(out, c)
		}
	}
	return out
}

func flowContext(t *testing.T, st flow.State) dialog.Context {
	t.Helper()
	encoded, err := json.Marshal(st)
	require.NoError(t, err)
	return dialog.Context{
		Name:       flow.ContextName,
		Lifespan:   flow.Lifespan,
		Parameters: map[string]string{"state": string(encoded)},
	}
}

func TestCallUserEndToEnd(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-ann", DisplayName: "Ann Lee", Email: "ann@example.com"}, "Ann")
	fc.devices = []collab.Device{
		{ClientID: "assistant-client", Type: collab.DeviceWeb},
		{ClientID: "browser-1", Type: collab.DeviceWeb},
	}
	svc := newTestService(fc)

	turn1 := newTurn(IntentCallUser, map[string]string{"target": "Ann"})
	require.NoError(t, svc.callUser(context.Background(), turn1))
	resp1 := turn1.Response()
	assert.Contains(t, resp1.Text, "Ready to call Ann Lee?")
	assert.True(t, resp1.ExpectUserResponse)

	turn2 := newTurn(IntentCallUserYes, nil, carry(resp1)...)
	require.NoError(t, svc.callUserYes(context.Background(), turn2))
	resp2 := turn2.Response()
	assert.Contains(t, resp2.Text, "Ok, calling Ann Lee on your browser.")
	assert.False(t, resp2.ExpectUserResponse)
	require.Len(t, fc.clickToCalls, 1)
	assert.Equal(t, "ann@example.com|browser-1", fc.clickToCalls[0])
}

func TestCallUserNoWebDevice(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-ann", DisplayName: "Ann Lee", Email: "ann@example.com"}, "Ann")
	// Only the assistant's own connection is logged on.
	fc.devices = []collab.Device{{ClientID: "assistant-client", Type: collab.DeviceWeb}}
	svc := newTestService(fc)

	turn1 := newTurn(IntentCallUser, map[string]string{"target": "Ann"})
	require.NoError(t, svc.callUser(context.Background(), turn1))

	turn2 := newTurn(IntentCallUserYes, nil, carry(turn1.Response())...)
	require.NoError(t, svc.callUserYes(context.Background(), turn2))
	resp := turn2.Response()
	assert.Contains(t, resp.Text, "not logged in on your browser")
	assert.Empty(t, fc.clickToCalls)
}

func TestCallUserNotFoundReprompts(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	svc := newTestService(fc)

	turn1 := newTurn(IntentCallUser, map[string]string{"target": "Zed"})
	require.NoError(t, svc.callUser(context.Background(), turn1))
	resp := turn1.Response()
	assert.Contains(t, resp.Text, "I cannot find any user called Zed. What's the name?")
	assert.True(t, resp.ExpectUserResponse)
}

func TestSendMessageNarrowsChoiceLocally(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-1", DisplayName: "Bob Marley", Email: "marley@example.com"}, "Bob")
	fc.addUser(collab.User{ID: "u-2", DisplayName: "Rob Stark", Email: "stark@example.com"}, "Bob")
	fc.addUser(collab.User{ID: "u-3", DisplayName: "Bonnie Raitt", Email: "raitt@example.com"}, "Bob")
	svc := newTestService(fc)

	turn1 := newTurn(IntentSendMessage, map[string]string{"target": "Bob", "message": "hello"})
	require.NoError(t, svc.sendMessage(context.Background(), turn1))
	resp1 := turn1.Response()
	assert.Contains(t, resp1.Text, "More than one user or conversation found with name Bob.")
	assert.Contains(t, resp1.Suggestions, "Bob Marley")
	assert.Contains(t, resp1.Suggestions, "Bonnie Raitt")

	turn2 := newTurn(IntentSendMessageCollect, map[string]string{"target": "Bob Marley"}, carry(resp1)...)
	require.NoError(t, svc.sendMessageCollect(context.Background(), turn2))
	resp2 := turn2.Response()
	assert.Contains(t, resp2.Text, "Ready to send")
	assert.Contains(t, resp2.Text, "Bob Marley")
	assert.Equal(t, 1, fc.userSearches, "narrowing should not hit the directory again")

	turn3 := newTurn(IntentSendMessageYes, nil, carry(resp2)...)
	require.NoError(t, svc.sendMessageYes(context.Background(), turn3))
	resp3 := turn3.Response()
	assert.Contains(t, resp3.Text, "Message sent.")
	require.Len(t, fc.sentItems, 1)
	assert.Equal(t, "direct-u-1|hello", fc.sentItems[0])
}

func TestSendMessageGathersMessageThenTarget(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-ann", DisplayName: "Ann Lee"}, "Ann")
	svc := newTestService(fc)

	turn1 := newTurn(IntentSendMessage, map[string]string{"target": "Ann"})
	require.NoError(t, svc.sendMessage(context.Background(), turn1))
	resp1 := turn1.Response()
	assert.Contains(t, resp1.Text, "What should the message say?")

	// The target given on the first turn is not asked for again.
	turn2 := newTurn(IntentSendMessage, map[string]string{"message": "hello"}, carry(resp1)...)
	require.NoError(t, svc.sendMessage(context.Background(), turn2))
	resp2 := turn2.Response()
	assert.Contains(t, resp2.Text, "Ready to send")
	assert.Contains(t, resp2.Text, "Ann Lee")
}

func TestSendMessageNoLeavesNoTrace(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-1", DisplayName: "Bob Marley"}, "Bob")
	svc := newTestService(fc)

	turn1 := newTurn(IntentSendMessage, map[string]string{"target": "Bob", "message": "hello"})
	require.NoError(t, svc.sendMessage(context.Background(), turn1))

	turn2 := newTurn(IntentSendMessageNo, nil, carry(turn1.Response())...)
	require.NoError(t, svc.sendMessageNo(context.Background(), turn2))
	resp := turn2.Response()

	assert.Empty(t, fc.sentItems)
	assert.Contains(t, resp.Text, "Message not sent.")
	_, live := dialog.NewTurn(dialog.Request{Contexts: carry(resp)}).Context(flow.ContextName)
	assert.False(t, live, "pending flow must be cleared on abandon")
}

func TestSendMessageConfirmWithoutFlow(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	svc := newTestService(fc)

	turn := newTurn(IntentSendMessageYes, nil)
	require.NoError(t, svc.sendMessageYes(context.Background(), turn))
	assert.Empty(t, fc.sentItems)
	assert.Contains(t, turn.Response().Text, "There is nothing to send.")
}

func TestNewRootIntentClearsStaleFlow(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-ann", DisplayName: "Ann Lee", Email: "ann@example.com"}, "Ann")
	svc := newTestService(fc)

	stale := flowContext(t, flow.State{Intent: IntentSendMessage, Step: flow.StepConfirm,
		Params: map[string]string{paramConvID: "c-1", paramMessage: "hello"}})

	turn := newTurn(IntentCallUser, map[string]string{"target": "Ann"}, stale)
	require.NoError(t, svc.callUser(context.Background(), turn))
	resp := turn.Response()
	assert.Contains(t, resp.Text, "Ready to call Ann Lee?")

	st, ok := flow.Load(dialog.NewTurn(dialog.Request{Contexts: carry(resp)}))
	require.True(t, ok)
	assert.Equal(t, IntentCallUser, st.Intent, "stale send.message flow must be superseded")
}

func TestConferenceJoin(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.started = []collab.Call{{CallID: "call-1", ConvID: "c-1"}}
	svc := newTestService(fc)

	turn1 := newTurn(IntentConferenceJoin, nil)
	require.NoError(t, svc.conferenceJoin(context.Background(), turn1))
	resp1 := turn1.Response()
	assert.Contains(t, resp1.Text, "Ready to join?")

	turn2 := newTurn(IntentConferenceJoinYes, nil, carry(resp1)...)
	require.NoError(t, svc.conferenceJoinYes(context.Background(), turn2))
	assert.Equal(t, []string{"call-1"}, fc.joined)
}

func TestConferenceJoinNothingOngoing(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	svc := newTestService(fc)

	turn := newTurn(IntentConferenceJoin, nil)
	require.NoError(t, svc.conferenceJoin(context.Background(), turn))
	assert.Contains(t, turn.Response().Text, "no conference call going on")
	assert.Empty(t, fc.joined)
}

func TestParticipantAddEndToEnd(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.addUser(collab.User{ID: "u-ann", DisplayName: "Ann Lee"}, "Ann")
	fc.convs["c-road"] = collab.Conversation{
		ID: "c-road", Topic: "Roadmap", Type: collab.ConversationGroup,
		Participants: []string{"self"},
	}
	fc.convHits["Roadmap"] = []string{"c-road"}
	svc := newTestService(fc)

	turn1 := newTurn(IntentParticipantAdd, map[string]string{"user": "Ann", "conversation": "Roadmap"})
	require.NoError(t, svc.participantStart(actionAdd)(context.Background(), turn1))
	resp1 := turn1.Response()
	assert.Contains(t, resp1.Text, "Ready to add Ann Lee to Roadmap?")

	turn2 := newTurn(IntentParticipantAddYes, nil, carry(resp1)...)
	require.NoError(t, svc.participantConfirmed(actionAdd)(context.Background(), turn2))
	resp2 := turn2.Response()
	assert.Contains(t, resp2.Text, "Ok, I added Ann Lee to Roadmap.")
	assert.Equal(t, []string{"c-road|u-ann"}, fc.added)
}

func TestParticipantAddModerationRefusal(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.convs["c-mod"] = collab.Conversation{
		ID: "c-mod", Topic: "Board", Type: collab.ConversationGroup,
		Participants: []string{"self", "u-boss"},
		Moderators:   []string{"u-boss"},
		Moderated:    true,
	}
	svc := newTestService(fc)

	confirm := flowContext(t, flow.State{Intent: IntentParticipantAdd, Step: flow.StepConfirm,
		Params: map[string]string{
			paramUserID: "u-ann", paramUserName: "Ann Lee",
			paramConvID: "c-mod", paramName: "Board",
		}})

	turn := newTurn(IntentParticipantAddYes, nil, confirm)
	require.NoError(t, svc.participantConfirmed(actionAdd)(context.Background(), turn))
	resp := turn.Response()
	assert.Contains(t, resp.Text, "Only a moderator can add participants")
	assert.Empty(t, fc.added)
}

func TestParticipantAddAlreadyMember(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.convs["c-road"] = collab.Conversation{
		ID: "c-road", Topic: "Roadmap", Type: collab.ConversationGroup,
		Participants: []string{"self", "u-ann"},
	}
	svc := newTestService(fc)

	confirm := flowContext(t, flow.State{Intent: IntentParticipantAdd, Step: flow.StepConfirm,
		Params: map[string]string{
			paramUserID: "u-ann", paramUserName: "Ann Lee",
			paramConvID: "c-road", paramName: "Roadmap",
		}})

	turn := newTurn(IntentParticipantAddYes, nil, confirm)
	require.NoError(t, svc.participantConfirmed(actionAdd)(context.Background(), turn))
	assert.Contains(t, turn.Response().Text, "Ann Lee is already a participant.")
	assert.Empty(t, fc.added)
}

func TestParticipantRemoveNotMember(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.convs["c-road"] = collab.Conversation{
		ID: "c-road", Topic: "Roadmap", Type: collab.ConversationGroup,
		Participants: []string{"self"},
	}
	svc := newTestService(fc)

	confirm := flowContext(t, flow.State{Intent: IntentParticipantRemove, Step: flow.StepConfirm,
		Params: map[string]string{
			paramUserID: "u-ann", paramUserName: "Ann Lee",
			paramConvID: "c-road", paramName: "Roadmap",
		}})

	turn := newTurn(IntentParticipantRemoveYes, nil, confirm)
	require.NoError(t, svc.participantConfirmed(actionRemove)(context.Background(), turn))
	assert.Contains(t, turn.Response().Text, "Ann Lee is not a participant")
	assert.Empty(t, fc.removed)
}

func TestPresenceRoundTrip(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.presence = collab.Presence{State: "AVAILABLE"}
	svc := newTestService(fc)

	turn1 := newTurn(IntentPresenceGet, nil)
	require.NoError(t, svc.presenceGet(context.Background(), turn1))
	assert.Contains(t, turn1.Response().Text, "You are available.")

	turn2 := newTurn(IntentPresenceSet, map[string]string{"state": "do not disturb"})
	require.NoError(t, svc.presenceSet(context.Background(), turn2))
	assert.Contains(t, turn2.Response().Text, "Ok, you are now on do not disturb.")
	assert.Equal(t, "DND", fc.presence.State)
}

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	svc := newTestService(fc)

	turn1 := newTurn(IntentStatusGet, nil)
	require.NoError(t, svc.statusGet(context.Background(), turn1))
	assert.Contains(t, turn1.Response().Text, "You have no status message.")

	turn2 := newTurn(IntentStatusSet, map[string]string{"message": "out for lunch"})
	require.NoError(t, svc.statusSet(context.Background(), turn2))
	assert.Equal(t, "out for lunch", fc.status)

	turn3 := newTurn(IntentStatusGet, nil)
	require.NoError(t, svc.statusGet(context.Background(), turn3))
	assert.Contains(t, turn3.Response().Text, "Your status message is out for lunch.")
}

func TestNoSessionClosesTurn(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.logonErr = collab.ErrAuthentication
	svc := newTestService(fc)

	turn := newTurn(IntentPresenceGet, nil)
	require.NoError(t, svc.presenceGet(context.Background(), turn))
	resp := turn.Response()
	assert.Equal(t, noSessionReply, resp.Text)
	assert.False(t, resp.ExpectUserResponse)
}
