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

const paramEmail = "email"

func (s *Service) callUser(ctx context.Context, t *dialog.Turn) error {
	st := s.rootState(t, IntentCallUser)

	target := t.Param("target")
	if target == "" {
		t.Ask("Who would you like to call?")
		st.Step = flow.StepCollectTarget
		return flow.Save(t, st)
	}

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}
	return s.advanceCallUser(ctx, t, client, st, target)
}

func (s *Service) callUserCollect(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentCallUser {
		return s.callUser(ctx, t)
	}

	target := t.Param("target")
	if target == "" {
		target = t.Query()
	}
	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	return s.advanceCallUser(ctx, t, client, st, target)
}

func (s *Service) callUserYes(ctx context.Context, t *dialog.Turn) error {
	st, ok := flow.Load(t)
	if !ok || st.Intent != IntentCallUser || st.Step != flow.StepConfirm {
		t.Ask("There is no call to start. What can I do for you?")
		return nil
	}

	client, okc := s.client(ctx, t)
	if !okc {
		return nil
	}
	flow.Clear(t)

	device, err := findWebClient(ctx, client)
	if err != nil || device == nil {
		if err != nil {
			s.log.Error("device lookup failed", slog.Any("error", err))
		}
		t.Close("Looks like you are not logged in on your browser. Login and try again.")
		return nil
	}

	name := st.Param(paramName)
	if err := client.SendClickToCallRequest(ctx, st.Param(paramEmail), device.ClientID); err != nil {
		s.log.Error("click-to-call failed",
			slog.String("email", st.Param(paramEmail)), slog.Any("error", err))
		t.Close("Looks like you are not logged in on your browser. Login and try again.")
		return nil
	}

	t.Close(fmt.Sprintf("Ok, calling %s on your browser.", name))
	return nil
}

func (s *Service) callUserNo(_ context.Context, t *dialog.Turn) error {
	flow.Clear(t)
	askAnythingElse(t, "Ok, no call.")
	return nil
}

// advanceCallUser runs one resolution attempt for the callee (users only).
func (s *Service) advanceCallUser(ctx context.Context, t *dialog.Turn, client collab.Client, st flow.State, target string) error {
	candidates, err := s.resolveCandidates(ctx, client, st, target, scopeUsers)
	if err != nil {
		s.log.Error("callee resolution failed", slog.String("target", target), slog.Any("error", err))
		flow.Clear(t)
		askAnythingElse(t, apologyReply)
		return nil
	}

	decision := flow.Decide(candidates)
	switch decision.Outcome {
	case flow.NotFound:
		t.Ask(fmt.Sprintf("I cannot find any user called %s. What's the name?", target))
		st.Step = flow.StepCollectTarget
		st.Candidates = nil
		return flow.Save(t, st)

	case flow.ConfirmSingle:
		cand := decision.Candidates[0]
		t.Ask(dialog.Speak("Ready to call " + cand.Name + "?"))
		t.Suggest("Yes", "No")
		st.Step = flow.StepConfirm
		st.Candidates = nil
		st = st.WithParam(paramEmail, cand.Email)
		st = st.WithParam(paramName, cand.Name)
		return flow.Save(t, st)

	default: // flow.ChooseMultiple
		t.Ask(fmt.Sprintf("More than one user found with name %s. What's the full name?", target))
		t.Suggest(search.Names(decision.Candidates)...)
		st.Step = flow.StepCollectTarget
		st.Query = target
		st.Candidates = decision.Candidates
		return flow.Save(t, st)
	}
}

// findWebClient picks a browser or desktop-app device of the logged-on user,
// excluding the device this assistant is connected through.
func findWebClient(ctx context.Context, client collab.Client) (*collab.Device, error) {
	devices, err := client.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("get devices: %w", err)
	}
	self := client.LoggedOnUser().ClientID
	for _, d := range devices {
		if d.ClientID == self {
			continue
		}
		if d.Type == collab.DeviceWeb ||
			(d.Type == collab.DeviceApplication && d.Subtype == collab.DeviceSubtypeDesktop) {
			return &d, nil
		}
	}
	return nil, nil
}
