package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

const (
	defaultDialTimeout = 15 * time.Second
	subscriberBuffer   = 16
)

// API method names on the platform websocket.
const (
	methodLogon               = "Session.Logon"
	methodLogout              = "Session.Logout"
	methodStartUserSearch     = "Search.StartUserSearch"
	methodStartBasicSearch    = "Search.StartBasicSearch"
	methodGetUsersByIDs       = "User.GetByIds"
	methodGetConversations    = "Conversation.GetByIds"
	methodGetDirectConv       = "Conversation.GetDirectWithUser"
	methodAddTextItem         = "Conversation.AddTextItem"
	methodAddParticipant      = "Conversation.AddParticipant"
	methodRemoveParticipant   = "Conversation.RemoveParticipant"
	methodGetStartedCalls     = "Call.GetStarted"
	methodGetActiveRemote     = "Call.GetActiveRemote"
	methodJoinConference      = "Call.JoinConference"
	methodLeaveConference     = "Call.LeaveConference"
	methodGetDevices          = "User.GetDevices"
	methodClickToCall         = "Call.SendClickToCallRequest"
	methodGetPresence         = "User.GetPresence"
	methodSetPresence         = "User.SetPresence"
	methodGetStatusMessage    = "User.GetStatusMessage"
	methodSetStatusMessage    = "User.SetStatusMessage"
	eventBasicSearchResults   = "Search.BasicSearchResults"
	eventSearchStatus         = "Search.Status"
	errCodeAuthorizationFail  = "AUTHORIZATION_FAILED"
	errCodeInvalidAccessToken = "INVALID_ACCESS_TOKEN"
)

type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("collab: %s (%s)", e.Message, e.Code)
}

type pendingCall struct {
	result json.RawMessage
	err    error
}

// WSClient implements Client over a websocket connection to the platform.
// One WSClient serves exactly one logged-on user.
type WSClient struct {
	domain   string
	clientID string
	tokens   oauth2.TokenSource
	log      *slog.Logger
	wsScheme string

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan pendingCall
	subs    map[int]chan SearchEvent
	nextSub int
	user    User
	closed  bool
	done    chan struct{}
}

// NewWSClient creates an unconnected client for the given platform domain.
// The token source supplies the end user's access token at dial time.
func NewWSClient(domain, clientID string, tokens oauth2.TokenSource, log *slog.Logger) *WSClient {
	if log == nil {
		log = slog.Default()
	}
	return &WSClient{
		domain:   domain,
		clientID: clientID,
		tokens:   tokens,
		log:      log.With(slog.String("component", "collab")),
		wsScheme: "wss",
		pending:  map[string]chan pendingCall{},
		subs:     map[int]chan SearchEvent{},
		done:     make(chan struct{}),
	}
}

// Logon dials the platform websocket and authenticates the connection.
func (c *WSClient) Logon(ctx context.Context) (User, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	u := url.URL{Scheme: c.wsScheme, Host: c.domain, Path: "/api/ws"}
	header := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: header})

	dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return User{}, fmt.Errorf("%w: handshake rejected (%d)", ErrAuthentication, resp.StatusCode)
		}
		return User{}, fmt.Errorf("dial %s: %w", c.domain, err)
	}
	c.conn = conn
	go c.readLoop()

	var user User
	if err := c.call(ctx, methodLogon, map[string]string{"clientId": c.clientID}, &user); err != nil {
		c.teardown(err)
		if isAuthError(err) {
			return User{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return User{}, fmt.Errorf("logon: %w", err)
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	c.log.Info("logged on", slog.String("user", user.DisplayName))
	return user, nil
}

// Logout ends the remote session and closes the connection. Safe to call on a
// never-connected or already-closed client.
func (c *WSClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	name := c.user.DisplayName
	c.mu.Unlock()

	err := c.call(ctx, methodLogout, nil, nil)
	c.teardown(ErrClosed)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.log.Info("logged out", slog.String("user", name))
	return nil
}

// LoggedOnUser returns the user established by Logon.
func (c *WSClient) LoggedOnUser() User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// StartUserSearch begins an asynchronous user search and returns its correlation id.
func (c *WSClient) StartUserSearch(ctx context.Context, query string) (string, error) {
	var out struct {
		SearchID string `json:"searchId"`
	}
	err := c.call(ctx, methodStartUserSearch, map[string]string{"query": query}, &out)
	return out.SearchID, err
}

// StartConversationSearch begins an asynchronous conversation topic search and
// returns its correlation id.
func (c *WSClient) StartConversationSearch(ctx context.Context, query string) (string, error) {
	var out struct {
		SearchID string `json:"searchId"`
	}
	params := map[string]any{
		"scope":      "CONVERSATIONS",
		"searchTerm": query,
	}
	err := c.call(ctx, methodStartBasicSearch, params, &out)
	return out.SearchID, err
}

// SubscribeSearch registers a search event subscriber. Events are dropped for
// subscribers that stop draining their channel.
func (c *WSClient) SubscribeSearch() (<-chan SearchEvent, func()) {
	ch := make(chan SearchEvent, subscriberBuffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *WSClient) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	err := c.call(ctx, methodGetUsersByIDs, map[string][]string{"userIds": ids}, &users)
	return users, err
}

func (c *WSClient) GetConversationsByIDs(ctx context.Context, ids []string) ([]Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var convs []Conversation
	if err := c.call(ctx, methodGetConversations, map[string][]string{"convIds": ids}, &convs); err != nil {
		return nil, err
	}
	for i := range convs {
		c.decorateDirect(&convs[i])
	}
	return convs, nil
}

func (c *WSClient) GetDirectConversationWithUser(ctx context.Context, userID string, createIfMissing bool) (Conversation, error) {
	var conv Conversation
	params := map[string]any{"userId": userID, "createIfNotExists": createIfMissing}
	if err := c.call(ctx, methodGetDirectConv, params, &conv); err != nil {
		return Conversation{}, err
	}
	c.decorateDirect(&conv)
	return conv, nil
}

func (c *WSClient) AddTextItem(ctx context.Context, convID, text string) error {
	return c.call(ctx, methodAddTextItem, map[string]string{"convId": convID, "content": text}, nil)
}

func (c *WSClient) AddParticipant(ctx context.Context, convID, userID string) error {
	return c.call(ctx, methodAddParticipant, map[string]string{"convId": convID, "userId": userID}, nil)
}

func (c *WSClient) RemoveParticipant(ctx context.Context, convID, userID string) error {
	return c.call(ctx, methodRemoveParticipant, map[string]string{"convId": convID, "userId": userID}, nil)
}

func (c *WSClient) GetStartedCalls(ctx context.Context) ([]Call, error) {
	var calls []Call
	err := c.call(ctx, methodGetStartedCalls, nil, &calls)
	return calls, err
}

func (c *WSClient) GetActiveRemoteCalls(ctx context.Context) ([]Call, error) {
	var calls []Call
	err := c.call(ctx, methodGetActiveRemote, nil, &calls)
	return calls, err
}

func (c *WSClient) JoinConference(ctx context.Context, callID string) error {
	return c.call(ctx, methodJoinConference, map[string]string{"callId": callID}, nil)
}

func (c *WSClient) LeaveConference(ctx context.Context, callID string) error {
	return c.call(ctx, methodLeaveConference, map[string]string{"callId": callID}, nil)
}

func (c *WSClient) GetDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := c.call(ctx, methodGetDevices, nil, &devices)
	return devices, err
}

func (c *WSClient) SendClickToCallRequest(ctx context.Context, email, clientID string) error {
	params := map[string]string{"emailAddress": email, "clientId": clientID}
	return c.call(ctx, methodClickToCall, params, nil)
}

func (c *WSClient) GetPresence(ctx context.Context) (Presence, error) {
	var p Presence
	err := c.call(ctx, methodGetPresence, nil, &p)
	return p, err
}

func (c *WSClient) SetPresence(ctx context.Context, state string) error {
	return c.call(ctx, methodSetPresence, map[string]string{"state": state}, nil)
}

func (c *WSClient) GetStatusMessage(ctx context.Context) (string, error) {
	var out struct {
		StatusMessage string `json:"statusMessage"`
	}
	err := c.call(ctx, methodGetStatusMessage, nil, &out)
	return out.StatusMessage, err
}

func (c *WSClient) SetStatusMessage(ctx context.Context, message string) error {
	return c.call(ctx, methodSetStatusMessage, map[string]string{"statusMessage": message}, nil)
}

// call issues one request frame and waits for its correlated response.
func (c *WSClient) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan pendingCall, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := frame{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.result) > 0 {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// readLoop decodes inbound frames and routes them: responses to their pending
// call, events to search subscribers. Exits on the first read error, failing
// all in-flight calls.
func (c *WSClient) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.teardown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		switch {
		case f.ID != "":
			c.deliverResponse(f)
		case f.Event != "":
			c.dispatchEvent(f)
		}
	}
}

func (c *WSClient) deliverResponse(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	res := pendingCall{result: f.Result}
	if f.Error != nil {
		res.err = f.Error
	}
	ch <- res
}

func (c *WSClient) dispatchEvent(f frame) {
	var evt SearchEvent
	switch f.Event {
	case eventBasicSearchResults:
		var result SearchResult
		if err := json.Unmarshal(f.Data, &result); err != nil {
			c.log.Warn("bad search result event", slog.Any("error", err))
			return
		}
		evt.Result = &result
	case eventSearchStatus:
		var status SearchStatus
		if err := json.Unmarshal(f.Data, &status); err != nil {
			c.log.Warn("bad search status event", slog.Any("error", err))
			return
		}
		evt.Status = &status
	default:
		return
	}

	c.mu.Lock()
	for id, ch := range c.subs {
		select {
		case ch <- evt:
		default:
			c.log.Warn("dropping search event for slow subscriber", slog.Int("sub", id))
		}
	}
	c.mu.Unlock()
}

// teardown closes the connection once and fails every in-flight call.
func (c *WSClient) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	pending := c.pending
	c.pending = map[string]chan pendingCall{}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	conn := c.conn
	c.mu.Unlock()

	for _, ch := range pending {
		// A call that already received its response and left via done still
		// holds the buffered slot; never block on it.
		select {
		case ch <- pendingCall{err: err}:
		default:
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// decorateDirect fills PeerUserID on direct conversations.
func (c *WSClient) decorateDirect(conv *Conversation) {
	if conv.Type != ConversationDirect {
		return
	}
	self := c.LoggedOnUser().ID
	for _, p := range conv.Participants {
		if p != self {
			conv.PeerUserID = p
			return
		}
	}
}

func isAuthError(err error) bool {
	var we *wireError
	if !errors.As(err, &we) {
		return false
	}
	return we.Code == errCodeAuthorizationFail || we.Code == errCodeInvalidAccessToken
}
