// Package dialog implements the dialog-platform side of the bridge: webhook
// turn payloads, named conversational contexts with turns-to-live counters,
// intent dispatch, and reply building.
package dialog

// Request is one inbound dialog turn.
type Request struct {
	Session     string            `json:"session"`
	UserID      string            `json:"userId"`
	AccessToken string            `json:"-"`
	Intent      string            `json:"intent"`
	Query       string            `json:"query,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Contexts    []Context         `json:"contexts,omitempty"`
}

// Context is short-lived named state attached to a conversation. Lifespan is
// the number of turns it survives; the platform decrements it every turn and
// drops it at zero.
type Context struct {
	Name       string            `json:"name"`
	Lifespan   int               `json:"lifespan"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Response is the structured reply for one turn.
type Response struct {
	Speech             string    `json:"speech"`
	Text               string    `json:"displayText,omitempty"`
	Suggestions        []string  `json:"suggestions,omitempty"`
	Contexts           []Context `json:"contexts,omitempty"`
	ExpectUserResponse bool      `json:"expectUserResponse"`
	FollowupIntent     string    `json:"followupIntent,omitempty"`
}
