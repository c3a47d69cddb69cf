// Package assistant implements the intent handlers: short orchestrations over
// the session manager, the search resolver, and the disambiguation flow, each
// ending in at most one mutating call against the collaboration platform.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/concordhq/concord/internal/collab"
	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/flow"
	"github.com/concordhq/concord/internal/logger"
	"github.com/concordhq/concord/internal/search"
	"github.com/concordhq/concord/internal/session"
)

// Intent names routed by the dialog platform.
const (
	IntentWelcome = "Default Welcome Intent"

	IntentSendMessage        = "send.message"
	IntentSendMessageCollect = "send.message - collect.target"
	IntentSendMessageYes     = "send.message - yes"
	IntentSendMessageNo      = "send.message - no"

	IntentCallUser        = "call.user"
	IntentCallUserCollect = "call.user - collect.target"
	IntentCallUserYes     = "call.user - yes"
	IntentCallUserNo      = "call.user - no"

	IntentConferenceJoin      = "conference.join"
	IntentConferenceJoinYes   = "conference.join - yes"
	IntentConferenceJoinNo    = "conference.join - no"
	IntentConferenceLeave     = "conference.leave"
	IntentConferenceLeaveYes  = "conference.leave - yes"
	IntentConferenceLeaveNo   = "conference.leave - no"

	IntentPresenceGet = "presence.get"
	IntentPresenceSet = "presence.set"
	IntentStatusGet   = "status.get"
	IntentStatusSet   = "status.set"

	IntentParticipantAdd           = "participant.add"
	IntentParticipantAddCollect    = "participant.add - collect.target"
	IntentParticipantAddYes        = "participant.add - yes"
	IntentParticipantAddNo         = "participant.add - no"
	IntentParticipantRemove        = "participant.remove"
	IntentParticipantRemoveCollect = "participant.remove - collect.target"
	IntentParticipantRemoveYes     = "participant.remove - yes"
	IntentParticipantRemoveNo      = "participant.remove - no"

	IntentAnythingElseYes = "anything.else - yes"
	IntentAnythingElseNo  = "anything.else - no"
)

const (
	noSessionReply = "No session found. Start over please."
	apologyReply   = "Sorry, that didn't work. Please try again later."

	anythingElseContext  = "anything_else"
	anythingElseLifespan = 2
)

// Service wires intent handlers to the session manager and search resolver.
type Service struct {
	sessions  *session.Manager
	resolver  *search.Resolver
	threshold float64
	log       *slog.Logger
}

// NewService creates the assistant service. threshold is the fuzzy inclusion
// threshold used when narrowing a persisted candidate pool.
func NewService(log *slog.Logger, sessions *session.Manager, resolver *search.Resolver, threshold float64) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		resolver:  resolver,
		threshold: threshold,
		log:       log.With(slog.String("service", "assistant")),
	}
}

// Register mounts every intent handler on the dispatcher.
func (s *Service) Register(d *dialog.Dispatcher) {
	d.Handle(IntentWelcome, s.welcome)

	d.Handle(IntentSendMessage, s.sendMessage)
	d.Handle(IntentSendMessageCollect, s.sendMessageCollect)
	d.Handle(IntentSendMessageYes, s.sendMessageYes)
	d.Handle(IntentSendMessageNo, s.sendMessageNo)

	d.Handle(IntentCallUser, s.callUser)
	d.Handle(IntentCallUserCollect, s.callUserCollect)
	d.Handle(IntentCallUserYes, s.callUserYes)
	d.Handle(IntentCallUserNo, s.callUserNo)

	d.Handle(IntentConferenceJoin, s.conferenceJoin)
	d.Handle(IntentConferenceJoinYes, s.conferenceJoinYes)
	d.Handle(IntentConferenceJoinNo, s.abandon)
	d.Handle(IntentConferenceLeave, s.conferenceLeave)
	d.Handle(IntentConferenceLeaveYes, s.conferenceLeaveYes)
	d.Handle(IntentConferenceLeaveNo, s.abandon)

	d.Handle(IntentPresenceGet, s.presenceGet)
	d.Handle(IntentPresenceSet, s.presenceSet)
	d.Handle(IntentStatusGet, s.statusGet)
	d.Handle(IntentStatusSet, s.statusSet)

	d.Handle(IntentParticipantAdd, s.participantStart(actionAdd))
	d.Handle(IntentParticipantAddCollect, s.participantCollect(actionAdd))
	d.Handle(IntentParticipantAddYes, s.participantConfirmed(actionAdd))
	d.Handle(IntentParticipantAddNo, s.abandon)
	d.Handle(IntentParticipantRemove, s.participantStart(actionRemove))
	d.Handle(IntentParticipantRemoveCollect, s.participantCollect(actionRemove))
	d.Handle(IntentParticipantRemoveYes, s.participantConfirmed(actionRemove))
	d.Handle(IntentParticipantRemoveNo, s.abandon)

	d.Handle(IntentAnythingElseYes, s.anythingElseYes)
	d.Handle(IntentAnythingElseNo, s.anythingElseNo)
}

// client ensures a live session for the turn's identity. On failure the turn
// is closed with a start-over message and ok is false.
func (s *Service) client(ctx context.Context, t *dialog.Turn) (collab.Client, bool) {
	sess, err := s.sessions.Ensure(ctx, t.Identity(), t.AccessToken())
	if err != nil {
		logger.FromContext(ctx).Warn("no session for turn", slog.Any("error", err))
		t.Close(noSessionReply)
		return nil, false
	}
	return sess.Client, true
}

// targetScope selects which entity kinds a resolution searches.
type targetScope int

const (
	scopeUsers targetScope = iota
	scopeConversations
	scopeUsersAndConversations
)

// resolveCandidates resolves free text to a match set. When the pending flow
// carries a candidate pool from a previous choose-multiple turn, the pool is
// narrowed locally first; an empty narrow falls back to a fresh remote search.
func (s *Service) resolveCandidates(ctx context.Context, client collab.Client, st flow.State, target string, scope targetScope) ([]search.Candidate, error) {
	if len(st.Candidates) > 0 {
		if narrowed := search.ByName(target, st.Candidates, s.threshold); len(narrowed) > 0 {
			return narrowed, nil
		}
	}

	var candidates []search.Candidate
	if scope == scopeUsers || scope == scopeUsersAndConversations {
		users, err := s.resolver.SearchUsers(ctx, client, target)
		if err != nil {
			return nil, fmt.Errorf("search users %q: %w", target, err)
		}
		candidates = append(candidates, users...)
	}
	if scope == scopeConversations || scope == scopeUsersAndConversations {
		convs, err := s.resolver.SearchConversations(ctx, client, target)
		if err != nil {
			return nil, fmt.Errorf("search conversations %q: %w", target, err)
		}
		candidates = append(candidates, convs...)
	}
	return candidates, nil
}

// askAnythingElse ends a flow with the standard follow-up prompt.
func askAnythingElse(t *dialog.Turn, lead string) {
	t.Ask(lead + " Is there anything else I can do for you?")
	t.Suggest("No, that's all", "Yes")
	t.SetContext(anythingElseContext, anythingElseLifespan, nil)
}

// abandon cancels the pending flow without side effects.
func (s *Service) abandon(_ context.Context, t *dialog.Turn) error {
	flow.Clear(t)
	askAnythingElse(t, "Ok, nothing done.")
	return nil
}
