package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/concordhq/concord/internal/dialog"
)

// welcome greets the user and creates the session in the background so the
// user is logged on by the time the first real intent needs it.
func (s *Service) welcome(_ context.Context, t *dialog.Turn) error {
	identity, token := t.Identity(), t.AccessToken()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.sessions.Ensure(ctx, identity, token); err != nil {
			s.log.Warn("session pre-warm failed",
				slog.String("identity", identity), slog.Any("error", err))
		}
	}()

	t.Ask("What can I do for you?")
	t.Suggest("Send a message", "Make a call")
	return nil
}

func (s *Service) anythingElseYes(_ context.Context, t *dialog.Turn) error {
	t.Followup("Welcome")
	return nil
}

func (s *Service) anythingElseNo(_ context.Context, t *dialog.Turn) error {
	t.Close("Good Bye")
	return nil
}
