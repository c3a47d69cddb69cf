package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/concordhq/concord/internal/collab"
	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/flow"
	"github.com/concordhq/concord/internal/search"
)

// participantAction parameterizes the shared add/remove participant flow.
type participantAction int

const (
	actionAdd participantAction = iota
	actionRemove
)

func (a participantAction) intent() string {
	if a == actionAdd {
		return IntentParticipantAdd
	}
	return IntentParticipantRemove
}

func (a participantAction) verb() string {
	if a == actionAdd {
		return "add"
	}
	return "remove"
}

// Flow parameter keys for the two-step participant resolution: the user is
// resolved first, then the conversation.
const (
	paramEntity    = "entity"
	paramUserID    = "userId"
	paramUserName  = "userName"
	paramConvQuery = "convQuery"

	entityUser         = "user"
	entityConversation = "conversation"
)

func (s *Service) participantStart(action participantAction) dialog.HandlerFunc {
	return func(ctx context.Context, t *dialog.Turn) error {
		st := s.rootState(t, action.intent())
		st = st.WithParam(paramEntity, entityUser)

		if conv := t.Param("conversation"); conv != "" {
			st = st.WithParam(paramConvQuery, conv)
		}
		target := t.Param("user")
		if target == "" {
			target = t.Param("target")
		}
		if target == "" {
			t.Ask(fmt.Sprintf("Who would you like to %s?", action.verb()))
			st.Step = flow.StepCollectTarget
			return flow.Save(t, st)
		}

		client, ok := s.client(ctx, t)
		if !ok {
			return nil
		}
		return s.advanceParticipant(ctx, t, client, st, action, target)
	}
}

func (s *Service) participantCollect(action participantAction) dialog.HandlerFunc {
	return func(ctx context.Context, t *dialog.Turn) error {
		st, ok := flow.Load(t)
		if !ok || st.Intent != action.intent() {
			return s.participantStart(action)(ctx, t)
		}

		target := t.Param("target")
		if target == "" {
			target = t.Query()
		}
		client, okc := s.client(ctx, t)
		if !okc {
			return nil
		}
		return s.advanceParticipant(ctx, t, client, st, action, target)
	}
}

// participantConfirmed performs the single mutation the confirmed flow asks
// for. Moderation and membership are checked first; a refusal leaves the
// conversation untouched.
func (s *Service) participantConfirmed(action participantAction) dialog.HandlerFunc {
	return func(ctx context.Context, t *dialog.Turn) error {
		st, ok := flow.Load(t)
		if !ok || st.Intent != action.intent() || st.Step != flow.StepConfirm {
			t.Ask("There is nothing to confirm. What can I do for you?")
			return nil
		}

		client, okc := s.client(ctx, t)
		if !okc {
			return nil
		}
		flow.Clear(t)

		convID := st.Param(paramConvID)
		convs, err := client.GetConversationsByIDs(ctx, []string{convID})
		if err != nil || len(convs) == 0 {
			s.log.Error("conversation lookup failed",
				slog.String("conv", convID), slog.Any("error", err))
			askAnythingElse(t, apologyReply)
			return nil
		}
		conv := convs[0]
		userID := st.Param(paramUserID)
		userName := st.Param(paramUserName)

		if conv.Moderated && !conv.HasModerator(client.LoggedOnUser().ID) {
			askAnythingElse(t, fmt.Sprintf(
				"Only a moderator can %s participants in this conversation.", action.verb()))
			return nil
		}

		switch action {
		case actionAdd:
			if conv.HasParticipant(userID) {
				askAnythingElse(t, fmt.Sprintf("%s is already a participant.", userName))
				return nil
			}
			if err := client.AddParticipant(ctx, convID, userID); err != nil {
				s.log.Error("add participant failed",
					slog.String("conv", convID), slog.String("user", userID), slog.Any("error", err))
				askAnythingElse(t, apologyReply)
				return nil
			}
			askAnythingElse(t, fmt.Sprintf("Ok, I added %s to %s.", userName, st.Param(paramName)))

		default:
			if !conv.HasParticipant(userID) {
				askAnythingElse(t, fmt.Sprintf("%s is not a participant of that conversation.", userName))
				return nil
			}
			if err := client.RemoveParticipant(ctx, convID, userID); err != nil {
				s.log.Error("remove participant failed",
					slog.String("conv", convID), slog.String("user", userID), slog.Any("error", err))
				askAnythingElse(t, apologyReply)
				return nil
			}
			askAnythingElse(t, fmt.Sprintf("Ok, I removed %s from %s.", userName, st.Param(paramName)))
		}
		return nil
	}
}

// advanceParticipant runs one resolution attempt for whichever entity the flow
// is currently collecting. Resolving the user moves the flow on to the
// conversation; resolving the conversation moves it to confirmation.
func (s *Service) advanceParticipant(ctx context.Context, t *dialog.Turn, client collab.Client, st flow.State, action participantAction, target string) error {
	entity := st.Param(paramEntity)
	if entity == "" {
		entity = entityUser
	}

	scope := scopeUsers
	if entity == entityConversation {
		scope = scopeConversations
	}
	candidates, err := s.resolveCandidates(ctx, client, st, target, scope)
	if err != nil {
		s.log.Error("participant resolution failed",
			slog.String("entity", entity), slog.String("target", target), slog.Any("error", err))
		flow.Clear(t)
		askAnythingElse(t, apologyReply)
		return nil
	}

	decision := flow.Decide(candidates)
	switch decision.Outcome {
	case flow.NotFound:
		t.Ask(fmt.Sprintf("I cannot find any %s called %s. What's the name?", entity, target))
		st.Step = flow.StepCollectTarget
		st.Candidates = nil
		return flow.Save(t, st)

	case flow.ConfirmSingle:
		cand := decision.Candidates[0]
		st.Candidates = nil
		if entity == entityUser {
			st = st.WithParam(paramUserID, cand.ID)
			st = st.WithParam(paramUserName, cand.Name)
			st = st.WithParam(paramEntity, entityConversation)
			if convQuery := st.Param(paramConvQuery); convQuery != "" {
				return s.advanceParticipant(ctx, t, client, st, action, convQuery)
			}
			t.Ask(fmt.Sprintf("Which conversation should I %s %s %s?",
				action.verb(), cand.Name, actionPreposition(action)))
			st.Step = flow.StepCollectTarget
			return flow.Save(t, st)
		}

		st = st.WithParam(paramConvID, cand.ConvID)
		st = st.WithParam(paramName, cand.Name)
		st.Step = flow.StepConfirm
		t.Ask(fmt.Sprintf("Ready to %s %s %s %s?",
			action.verb(), st.Param(paramUserName), actionPreposition(action), cand.Name))
		t.Suggest("Yes", "No")
		return flow.Save(t, st)

	default: // flow.ChooseMultiple
		t.Ask(fmt.Sprintf("More than one %s found with name %s. What's the full name?", entity, target))
		t.Suggest(search.Names(decision.Candidates)...)
		st.Step = flow.StepCollectTarget
		st.Query = target
		st.Candidates = decision.Candidates
		return flow.Save(t, st)
	}
}

func actionPreposition(action participantAction) string {
	if action == actionAdd {
		return "to"
	}
	return "from"
}
