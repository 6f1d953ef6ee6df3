package ivr

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-labs/parley-bridge/internal/dialogue"
	"github.com/parley-labs/parley-bridge/internal/protocol"
	"github.com/parley-labs/parley-bridge/internal/twiml"
)

// Engine is the remote dialogue-engine surface the orchestrator needs.
type Engine interface {
	Interact(ctx context.Context, caller, session string, action *dialogue.Action) ([]dialogue.Trace, error)
	DeleteState(ctx context.Context, caller string) error
}

// Sessions tracks the active session token per caller.
type Sessions interface {
	Current(ctx context.Context, caller string) (string, error)
	Rotate(ctx context.Context, caller string) (string, error)
}

// EffectQueue hands side effects to the supervised dispatcher. Enqueue
// failures are the dispatcher's problem; the turn never waits on them.
type EffectQueue interface {
	EnqueueSMS(job protocol.SMSJob) error
	EnqueueTranscript(job protocol.TranscriptJob) error
}

// Orchestrator runs one caller turn end to end: engine call, trace
// interpretation, response assembly, side-effect dispatch, session rotation.
type Orchestrator struct {
	engine       Engine
	sessions     Sessions
	interp       *Interpreter
	effects      EffectQueue
	senderNumber string
	resetOnEnd   bool
	log          *slog.Logger
	clock        func() time.Time
	newTurnID    func() string
}

func NewOrchestrator(engine Engine, sessions Sessions, interp *Interpreter, effects EffectQueue, senderNumber string, resetOnEnd bool, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:       engine,
		sessions:     sessions,
		interp:       interp,
		effects:      effects,
		senderNumber: senderNumber,
		resetOnEnd:   resetOnEnd,
		log:          log.With(slog.String("component", "orchestrator")),
		clock:        time.Now,
		newTurnID:    func() string { return uuid.NewString() },
	}
}

// Launch starts a new conversation for the caller.
func (o *Orchestrator) Launch(ctx context.Context, caller string) (string, error) {
	return o.runTurn(ctx, caller, dialogue.LaunchAction())
}

// Interaction forwards caller input. Digits take precedence over the speech
// result; when both are empty the engine receives a nil action.
func (o *Orchestrator) Interaction(ctx context.Context, caller, speech, digits string) (string, error) {
	var action *dialogue.Action
	if digits != "" {
		action = dialogue.TextAction(digits)
	} else if trimmed := strings.TrimSpace(speech); trimmed != "" {
		action = dialogue.TextAction(speech)
	}
	return o.runTurn(ctx, caller, action)
}

// CompleteCall handles the provider's end-of-call status callback: remote
// state is cleared and the session rotated so the next call starts fresh.
func (o *Orchestrator) CompleteCall(ctx context.Context, caller string) error {
	if !o.resetOnEnd {
		return nil
	}
	if err := o.engine.DeleteState(ctx, caller); err != nil {
		return err
	}
	if _, err := o.sessions.Rotate(ctx, caller); err != nil {
		return err
	}
	return nil
}

// runTurn always returns a renderable response document; on unrecovered
// failures the caller hears an apology instead of a dead line, and the error
// is returned alongside for logging.
func (o *Orchestrator) runTurn(ctx context.Context, caller string, action *dialogue.Action) (string, error) {
	turnID := o.newTurnID()
	log := o.log.With(slog.String("turn_id", turnID), slog.String("caller", caller))

	session, err := o.sessions.Current(ctx, caller)
	if err != nil {
		log.Error("session lookup failed", slogError(err))
		return o.fallbackResponse(), err
	}

	traces, err := o.engine.Interact(ctx, caller, session, action)
	if err != nil {
		log.Error("dialogue engine call failed", slogError(err))
		return o.fallbackResponse(), err
	}

	result, err := o.interp.Interpret(ctx, traces, caller)
	if err != nil {
		log.Error("trace interpretation failed", slogError(err))
		return o.fallbackResponse(), err
	}

	response, err := result.Document.Render()
	if err != nil {
		log.Error("response assembly failed", slogError(err))
		return o.fallbackResponse(), err
	}

	now := o.clock().UTC()
	for _, effect := range result.SMS {
		job := protocol.SMSJob{To: effect.To, From: o.senderNumber, Body: effect.Body, TurnID: turnID, Timestamp: now}
		if err := o.effects.EnqueueSMS(job); err != nil {
			log.Warn("failed to enqueue sms", slogError(err))
		}
	}
	transcript := protocol.TranscriptJob{Caller: caller, SessionID: session, Ended: result.Ended, TurnID: turnID, Timestamp: now}
	if err := o.effects.EnqueueTranscript(transcript); err != nil {
		log.Warn("failed to enqueue transcript", slogError(err))
	}

	if result.Ended {
		if _, err := o.sessions.Rotate(ctx, caller); err != nil {
			log.Warn("session rotation failed", slogError(err))
		}
	}

	log.Info("turn complete", slog.Bool("ended", result.Ended), slog.Int("traces", len(traces)))
	return response, nil
}

// fallbackResponse is the minimal valid document for failed turns.
func (o *Orchestrator) fallbackResponse() string {
	doc := twimlFallback()
	out, err := doc.Render()
	if err != nil {
		// Render on a say+hangup document cannot realistically fail, but the
		// provider must always receive a parseable body.
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup></Hangup></Response>`
	}
	return out
}

func twimlFallback() *twiml.Document {
	doc := twiml.New()
	doc.Say("We're sorry, something went wrong. Please try again later.")
	doc.Hangup()
	return doc
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
