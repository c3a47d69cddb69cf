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

// Flow parameter keys shared across the message/participant flows.
const (
	paramMessage = "message"
	paramTarget  = "target"
	paramConvID  = "convId"
	paramName    = "name"
)

func (s *Service) sendMessage(ctx context.Context, t *dialog.Turn) error {
	st := s.rootState(t, IntentSendMessage)

	target := t.Param("target")
	if target != "" {
		st = st.WithParam(paramTarget, target)
	} else {
		target = st.Param(paramTarget)
	}
	if message := t.Param(paramMessage); message != "" {
		st = st.WithParam(paramMessage, message)
	}

	if st.Param(paramMessage) == "" {
		t.Ask("What should the message say?")
		return flow.Save(t, st)
	}
	if target == "" {
		t.Ask("Who should I send the message to?")
		st.Step = flow.StepCollectTarget
		return flow.Save(t, st)
	}

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}
	return s.advanceSendMessage(ctx, t, client, st, target)
}

func (s *Service) sendMessageCollect(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentSendMessage {
		return s.sendMessage(ctx, t)
	}

	target := t.Param("target")
	if target == "" {
		target = t.Query()
	}
	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	return s.advanceSendMessage(ctx, t, client, st, target)
}

func (s *Service) sendMessageYes(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentSendMessage || st.Step != flow.StepConfirm {
		t.Ask("There is nothing to send. What can I do for you?")
		return nil
	}

	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	if err := client.AddTextItem(ctx, st.Param(paramConvID), st.Param(paramMessage)); err != nil {
		s.log.Error("send message failed",
			slog.String("conv", st.Param(paramConvID)), slog.Any("error", err))
		flow.Clear(t)
		askAnythingElse(t, apologyReply)
		return nil
	}

	flow.Clear(t)
	askAnythingElse(t, "Message sent.")
	return nil
}

func (s *Service) sendMessageNo(_ context.Context, t *dialog.Turn) error {
	flow.Clear(t)
	askAnythingElse(t, "Message not sent.")
	return nil
}

// advanceSendMessage runs one resolution attempt for the message target and
// emits the matching prompt: re-ask, confirm, or enumerate.
func (s *Service) advanceSendMessage(ctx context.Context, t *dialog.Turn, client collab.Client, st flow.State, target string) error {
	candidates, err := s.resolveCandidates(ctx, client, st, target, scopeUsersAndConversations)
	if err != nil {
		s.log.Error("target resolution failed", slog.String("target", target), slog.Any("error", err))
		flow.Clear(t)
		askAnythingElse(t, apologyReply)
		return nil
	}

	decision := flow.Decide(candidates)
	switch decision.Outcome {
	case flow.NotFound:
		t.Ask(fmt.Sprintf("I cannot find any user or conversation called %s. What's the name?", target))
		st.Step = flow.StepCollectTarget
		st.Candidates = nil
		return flow.Save(t, st)

	case flow.ConfirmSingle:
		cand := decision.Candidates[0]
		convID := cand.ConvID
		if cand.Kind == search.KindUser {
			conv, err := client.GetDirectConversationWithUser(ctx, cand.ID, true)
			if err != nil {
				s.log.Error("direct conversation lookup failed",
					slog.String("user", cand.ID), slog.Any("error", err))
				flow.Clear(t)
				askAnythingElse(t, apologyReply)
				return nil
			}
			convID = conv.ID
		}

		message := st.Param(paramMessage)
		t.Ask(dialog.Speak("Ready to send ", dialog.Pause, message, dialog.Pause, " to "+cand.Name+"?"))
		t.Suggest("Yes", "No, don't send it")
		st.Step = flow.StepConfirm
		st.Candidates = nil
		st = st.WithParam(paramConvID, convID)
		st = st.WithParam(paramName, cand.Name)
		return flow.Save(t, st)

	default: // flow.ChooseMultiple
		t.Ask(fmt.Sprintf("More than one user or conversation found with name %s. What's the full name?", target))
		t.Suggest(search.Names(decision.Candidates)...)
		st.Step = flow.StepCollectTarget
		st.Query = target
		st.Candidates = decision.Candidates
		return flow.Save(t, st)
	}
}

// rootState returns the pending flow owned by intent. A pending flow from a
// different intent is cleared: starting a new root intent cancels the old flow
// explicitly rather than leaving its context to leak into later turns.
func (s *Service) rootState(t *dialog.Turn, intent string) flow.State {
	st, ok := flow.Load(t)
	if !ok || st.Intent != intent {
		if ok {
			flow.Clear(t)
		}
		return flow.State{Intent: intent}
	}
	return st
}
