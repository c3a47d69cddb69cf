// Package collab talks to the collaboration platform: directory search,
// messaging, conferencing, presence. The platform API is asynchronous and
// event-driven; searches in particular complete only via correlated status
// events (see SearchEvent).
package collab

import (
	"context"
	"errors"
)

var (
	// ErrAuthentication indicates a logon or token failure. The user has to
	// restart the flow with fresh credentials.
	ErrAuthentication = errors.New("collab: authentication failed")
	// ErrClosed indicates the client connection has been torn down.
	ErrClosed = errors.New("collab: client closed")
)

// Client is an authenticated handle to the collaboration platform for one
// end user. All blocking calls honor ctx cancellation.
type Client interface {
	// Logon authenticates the connection and returns the logged-on user.
	Logon(ctx context.Context) (User, error)
	// Logout ends the remote session and releases the connection.
	Logout(ctx context.Context) error
	// LoggedOnUser returns the user established by Logon.
	LoggedOnUser() User

	// StartUserSearch begins an asynchronous directory search for users and
	// returns its correlation id. Results arrive as SearchEvents.
	StartUserSearch(ctx context.Context, query string) (string, error)
	// StartConversationSearch begins an asynchronous search over conversation
	// topics and returns its correlation id.
	StartConversationSearch(ctx context.Context, query string) (string, error)
	// SubscribeSearch registers a search event subscriber. The returned cancel
	// function must be called to release the subscription.
	SubscribeSearch() (<-chan SearchEvent, func())

	GetUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	GetConversationsByIDs(ctx context.Context, ids []string) ([]Conversation, error)
	// GetDirectConversationWithUser returns the 1:1 conversation with userID,
	// creating it when createIfMissing is set.
	GetDirectConversationWithUser(ctx context.Context, userID string, createIfMissing bool) (Conversation, error)

	AddTextItem(ctx context.Context, convID, text string) error
	AddParticipant(ctx context.Context, convID, userID string) error
	RemoveParticipant(ctx context.Context, convID, userID string) error

	GetStartedCalls(ctx context.Context) ([]Call, error)
	GetActiveRemoteCalls(ctx context.Context) ([]Call, error)
	JoinConference(ctx context.Context, callID string) error
	LeaveConference(ctx context.Context, callID string) error

	GetDevices(ctx context.Context) ([]Device, error)
	// SendClickToCallRequest asks the device identified by clientID to dial
	// the user with the given email.
	SendClickToCallRequest(ctx context.Context, email, clientID string) error

	GetPresence(ctx context.Context) (Presence, error)
	SetPresence(ctx context.Context, state string) error
	GetStatusMessage(ctx context.Context) (string, error)
	SetStatusMessage(ctx context.Context, message string) error
}
