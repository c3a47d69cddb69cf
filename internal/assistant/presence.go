package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/concordhq/concord/internal/dialog"
)

// Presence states accepted from the dialog platform.
const (
	presenceAvailable    = "AVAILABLE"
	presenceBusy         = "BUSY"
	presenceDoNotDisturb = "DND"
)

func (s *Service) presenceGet(ctx context.Context, t *dialog.Turn) error {
	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}

	p, err := client.GetPresence(ctx)
	if err != nil {
		s.log.Error("presence lookup failed", slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	askAnythingElse(t, fmt.Sprintf("You are %s.", spokenPresence(p.State)))
	return nil
}

func (s *Service) presenceSet(ctx context.Context, t *dialog.Turn) error {
	state := normalizePresence(t.Param("state"))
	if state == "" {
		t.Ask("I can set you available, busy, or do not disturb. Which one?")
		t.Suggest("Available", "Busy", "Do not disturb")
		return nil
	}

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}
	if err := client.SetPresence(ctx, state); err != nil {
		s.log.Error("set presence failed", slog.String("state", state), slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	askAnythingElse(t, fmt.Sprintf("Ok, you are now %s.", spokenPresence(state)))
	return nil
}

func (s *Service) statusGet(ctx context.Context, t *dialog.Turn) error {
	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}

	message, err := client.GetStatusMessage(ctx)
	if err != nil {
		s.log.Error("status lookup failed", slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	if message == "" {
		askAnythingElse(t, "You have no status message.")
		return nil
	}
	askAnythingElse(t, fmt.Sprintf("Your status message is %s.", message))
	return nil
}

func (s *Service) statusSet(ctx context.Context, t *dialog.Turn) error {
	message := t.Param("message")
	if message == "" {
		t.Ask("What should your status message say?")
		return nil
	}

	client, ok := s.client(ctx, t)
	if !ok {
		return nil
	}
	if err := client.SetStatusMessage(ctx, message); err != nil {
		s.log.Error("set status failed", slog.Any("error", err))
		askAnythingElse(t, apologyReply)
		return nil
	}
	askAnythingElse(t, fmt.Sprintf("Ok, your status message is now %s.", message))
	return nil
}

// spokenPresence renders a platform presence state for speech output.
func spokenPresence(state string) string {
	if state == presenceDoNotDisturb {
		return "on do not disturb"
	}
	return strings.ToLower(state)
}

// normalizePresence maps spoken presence names onto platform states.
func normalizePresence(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case presenceAvailable, "ONLINE", "FREE":
		return presenceAvailable
	case presenceBusy:
		return presenceBusy
	case presenceDoNotDisturb, "DO NOT DISTURB", "DONT DISTURB":
		return presenceDoNotDisturb
	case "":
		return ""
	default:
		return ""
	}
}
