package assistant

import (
	"context"
	"log/slog"

	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/flow"
)

const paramCallID = "callId"

func (s *Service) conferenceJoin(ctx context.Context, t *dialog.Turn) error {
	st := s.rootState(t, IntentConferenceJoin)

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}

	calls, err := client.GetStartedCalls(ctx)
	if err != nil {
		s.log.Error("started calls lookup failed", slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	if len(calls) == 0 {
		askAnythingElse(t, "There is no conference call going on right now.")
		return nil
	}

	call := calls[0]
	t.Ask("There is a conference call going on. Ready to join?")
	t.Suggest("Yes", "No")
	st.Step = flow.StepConfirm
	st = st.WithParam(paramCallID, call.CallID)
	return flow.Save(t, st)
}

func (s *Service) conferenceJoinYes(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentConferenceJoin || st.Step != flow.StepConfirm {
		t.Ask("There is no conference to join. What can I do for you?")
		return nil
	}

	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	flow.Clear(t)

	if err := client.JoinConference(ctx, st.Param(paramCallID)); err != nil {
		s.log.Error("join conference failed",
			slog.String("call", st.Param(paramCallID)), slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	t.Close("Ok, joining the conference.")
	return nil
}

func (s *Service) conferenceLeave(ctx context.Context, t *dialog.Turn) error {
	st := s.rootState(t, IntentConferenceLeave)

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}

	calls, err := client.GetActiveRemoteCalls(ctx)
	if err != nil {
		s.log.Error("active calls lookup failed", slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	if len(calls) == 0 {
		askAnythingElse(t, "You are not in any conference call.")
		return nil
	}

	call := calls[0]
	t.Ask("Ready to leave the conference?")
	t.Suggest("Yes", "No")
	st.Step = flow.StepConfirm
	st = st.WithParam(paramCallID, call.CallID)
	return flow.Save(t, st)
}

func (s *Service) conferenceLeaveYes(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentConferenceLeave || st.Step != flow.StepConfirm {
		t.Ask("There is no conference to leave. What can I do for you?")
		return nil
	}

	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	flow.Clear(t)

	if err := client.LeaveConference(ctx, st.Param(paramCallID)); err != nil {
		s.log.Error("leave conference failed",
			slog.String("call", st.Param(paramCallID)), slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	t.Close("Ok, you left the conference.")
	return nil
}
