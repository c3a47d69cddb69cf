package collab

// User is a directory entry on the collaboration platform.
type User struct {
	ID          string `json:"userId"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Email       string `json:"emailAddress,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
}

// Conversation kinds.
const (
	ConversationDirect = "DIRECT"
	ConversationGroup  = "GROUP"
)

// Conversation is a messaging conversation, direct or group.
type Conversation struct {
	ID           string   `json:"convId"`
	Topic        string   `json:"topic,omitempty"`
	Type         string   `json:"type"`
	Participants []string `json:"participants,omitempty"`
	Moderators   []string `json:"moderators,omitempty"`
	Moderated    bool     `json:"isModerated,omitempty"`

	// PeerUserID is set on DIRECT conversations to the participant that is
	// not the logged-on user.
	PeerUserID string `json:"peerUserId,omitempty"`
}

// HasParticipant reports whether userID is a participant of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// HasModerator reports whether userID is in the conversation's moderator list.
func (c Conversation) HasModerator(userID string) bool {
	for _, m := range c.Moderators {
		if m == userID {
			return true
		}
	}
	return false
}

// Call is an ongoing or started call.
type Call struct {
	CallID   string `json:"callId"`
	ConvID   string `json:"convId"`
	State    string `json:"state,omitempty"`
	IsRemote bool   `json:"isRemote,omitempty"`
}

// Device types reported by GetDevices.
const (
	DeviceWeb            = "WEB"
	DeviceApplication    = "APPLICATION"
	DeviceSubtypeDesktop = "DESKTOP_APP"
)

// Device is a client endpoint the logged-on user is signed in with.
type Device struct {
	ClientID string `json:"clientId"`
	Type     string `json:"deviceType"`
	Subtype  string `json:"deviceSubtype,omitempty"`
}

// Presence is a user's presence state and optional status message.
type Presence struct {
	State         string `json:"state"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// Terminal search statuses. A search is only known to be complete once one of
// these arrives for its correlation id.
const (
	SearchFinished = "FINISHED"
	SearchNoResult = "NO_RESULT"
)

// SearchEvent is a server-push event for an in-flight directory search.
// Either Result or Status is set, never both.
type SearchEvent struct {
	Result *SearchResult
	Status *SearchStatus
}

// SearchResult carries a partial batch of matching entity ids tagged with the
// originating search's correlation id.
type SearchResult struct {
	SearchID string   `json:"searchId"`
	UserIDs  []string `json:"users,omitempty"`
	ConvIDs  []string `json:"convIds,omitempty"`
}

// SearchStatus signals search progress; FINISHED and NO_RESULT are terminal.
type SearchStatus struct {
	SearchID string `json:"searchId"`
	Status   string `json:"status"`
}

// Terminal reports whether the status ends the search.
func (s SearchStatus) Terminal() bool {
	return s.Status == SearchFinished || s.Status == SearchNoResult
}
