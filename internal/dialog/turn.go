package dialog

import (
	"sort"
	"strings"
)

// Turn wraps one request and accumulates the reply: speech, suggestion chips,
// and context changes. Handlers drive it imperatively (Ask/Suggest/Close) the
// way the dialog platform's own SDKs do.
type Turn struct {
	req Request

	speech      []string
	display     []string
	suggestions []string
	set         map[string]Context
	cleared     map[string]bool
	closed      bool
	followup    string
}

// NewTurn starts a turn for the given request.
func NewTurn(req Request) *Turn {
	return &Turn{
		req:     req,
		set:     map[string]Context{},
		cleared: map[string]bool{},
	}
}

// Identity returns the end-user identity for this turn.
func (t *Turn) Identity() string { return t.req.UserID }

// AccessToken returns the end user's collaboration-platform access token.
func (t *Turn) AccessToken() string { return t.req.AccessToken }

// Intent returns the recognized intent name.
func (t *Turn) Intent() string { return t.req.Intent }

// Query returns the raw user utterance.
func (t *Turn) Query() string { return t.req.Query }

// Param returns a recognized parameter value, or "".
func (t *Turn) Param(name string) string {
	return strings.TrimSpace(t.req.Parameters[name])
}

// Context returns the named input context.
func (t *Turn) Context(name string) (Context, bool) {
	for _, c := range t.req.Contexts {
		if c.Name == name && c.Lifespan > 0 {
			return c, true
		}
	}
	return Context{}, false
}

// SetContext persists a named context for the next lifespan turns.
func (t *Turn) SetContext(name string, lifespan int, params map[string]string) {
	delete(t.cleared, name)
	t.set[name] = Context{Name: name, Lifespan: lifespan, Parameters: params}
}

// ClearContext drops a context immediately (lifespan 0 on the reply).
func (t *Turn) ClearContext(name string) {
	delete(t.set, name)
	t.cleared[name] = true
}

// Ask appends reply text and keeps the conversation open.
func (t *Turn) Ask(text string) {
	t.speech = append(t.speech, text)
	t.display = append(t.display, StripSSML(text))
}

// Suggest adds suggestion chips to the reply.
func (t *Turn) Suggest(chips ...string) {
	t.suggestions = append(t.suggestions, chips...)
}

// Close appends reply text and ends the conversation.
func (t *Turn) Close(text string) {
	if text != "" {
		t.Ask(text)
	}
	t.closed = true
}

// Followup asks the platform to trigger another intent immediately.
func (t *Turn) Followup(intent string) {
	t.followup = intent
}

// Response assembles the reply. Input contexts the handler did not touch are
// passed through with a decremented lifespan; cleared contexts are emitted
// with lifespan 0 so the platform drops them.
func (t *Turn) Response() Response {
	resp := Response{
		Speech:             strings.Join(t.speech, " "),
		Text:               strings.Join(t.display, " "),
		Suggestions:        t.suggestions,
		ExpectUserResponse: !t.closed,
		FollowupIntent:     t.followup,
	}

	seen := map[string]bool{}
	for _, c := range t.req.Contexts {
		seen[c.Name] = true
		if _, replaced := t.set[c.Name]; replaced {
			continue
		}
		if t.cleared[c.Name] {
			resp.Contexts = append(resp.Contexts, Context{Name: c.Name, Lifespan: 0})
			continue
		}
		if c.Lifespan > 1 {
			c.Lifespan--
			resp.Contexts = append(resp.Contexts, c)
		}
	}
	for _, c := range t.set {
		resp.Contexts = append(resp.Contexts, c)
	}
	for name := range t.cleared {
		if !seen[name] {
			resp.Contexts = append(resp.Contexts, Context{Name: name, Lifespan: 0})
		}
	}
	sort.Slice(resp.Contexts, func(i, j int) bool {
		return resp.Contexts[i].Name < resp.Contexts[j].Name
	})
	return resp
}
