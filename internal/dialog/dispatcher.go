package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/concordhq/concord/internal/logger"
)

const failureReply = "Something went wrong. Please try again later."

// HandlerFunc handles one turn for one intent.
type HandlerFunc func(ctx context.Context, t *Turn) error

// Dispatcher routes turns to intent handlers. Handler errors and panics are
// contained here: the conversation is closed with a generic failure message
// instead of surfacing a transport error.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	fallback HandlerFunc
	log      *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers: map[string]HandlerFunc{},
		log:      log.With(slog.String("component", "dispatcher")),
	}
}

// Handle registers fn for the given intent name.
func (d *Dispatcher) Handle(intent string, fn HandlerFunc) {
	d.handlers[intent] = fn
}

// HandleFallback registers the handler for unrecognized intents.
func (d *Dispatcher) HandleFallback(fn HandlerFunc) {
	d.fallback = fn
}

// Dispatch runs the handler for the request's intent and assembles the reply.
// The handler context carries a logger scoped to the turn's intent and
// identity; handlers retrieve it with logger.FromContext.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	turn := NewTurn(req)

	log := d.log.With(
		slog.String("intent", req.Intent),
		slog.String("identity", req.UserID),
	)
	ctx = logger.WithContext(ctx, log)

	fn, ok := d.handlers[req.Intent]
	if !ok {
		if d.fallback == nil {
			log.Warn("no handler for intent")
			turn.Ask("Sorry, I didn't get that. What can I do for you?")
			return turn.Response()
		}
		fn = d.fallback
	}

	if err := d.run(ctx, fn, turn); err != nil {
		log.Error("intent handler failed", slog.Any("error", err))
		failed := NewTurn(req)
		failed.Close(failureReply)
		return failed.Response()
	}
	return turn.Response()
}

// run executes one handler, converting a panic into an error.
func (d *Dispatcher) run(ctx context.Context, fn HandlerFunc, turn *Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, turn)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
