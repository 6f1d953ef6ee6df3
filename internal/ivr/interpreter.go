// Package ivr holds the per-turn control flow: interpreting the engine's
// trace sequence and assembling the call-control response.
package ivr

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parley-labs/parley-bridge/internal/config"
	"github.com/parley-labs/parley-bridge/internal/dialogue"
	"github.com/parley-labs/parley-bridge/internal/twiml"
)

// Materializer turns inline audio payloads into fetchable URLs.
type Materializer interface {
	Materialize(ctx context.Context, dataURI string) (string, error)
}

// SMSEffect is an outbound text message produced by an sms trace. It is
// dispatched after the response document is built and never blocks the turn.
type SMSEffect struct {
	To   string
	Body string
}

// Result is one interpreted turn.
type Result struct {
	Document *twiml.Document
	Ended    bool
	SMS      []SMSEffect
}

// Interpreter consumes one ordered trace sequence per turn.
type Interpreter struct {
	audio  Materializer
	gather config.GatherConfig
	log    *slog.Logger
}

func NewInterpreter(audio Materializer, gather config.GatherConfig, log *slog.Logger) *Interpreter {
	return &Interpreter{
		audio:  audio,
		gather: gather,
		log:    log.With(slog.String("component", "interpreter")),
	}
}

// Interpret walks the trace sequence in order and accumulates directives and
// side effects. Whether the turn ended is decided up front: the provider
// requires the gather directive to wrap the prompts, so it must be attached
// before any of them.
func (i *Interpreter) Interpret(ctx context.Context, traces []dialogue.Trace, caller string) (*Result, error) {
	ended := false
	for _, t := range traces {
		if t.Ends() {
			ended = true
			break
		}
	}

	doc := twiml.New()
	if !ended {
		if err := doc.AttachGather(i.gatherOptions()); err != nil {
			return nil, err
		}
	}

	res := &Result{Document: doc, Ended: ended}
	for _, t := range traces {
		switch t.Kind {
		case dialogue.KindText, dialogue.KindSpeak:
			i.interpretSpeech(ctx, doc, t)
		case dialogue.KindCall:
			i.log.Info("transferring call", slog.String("number", t.Number))
			doc.Dial(t.Number)
		case dialogue.KindSMS:
			res.SMS = append(res.SMS, SMSEffect{To: caller, Body: t.Body})
		case dialogue.KindEnd:
			doc.Hangup()
		default:
			// unrecognized trace kinds carry nothing for the call
		}
	}
	return res, nil
}

func (i *Interpreter) interpretSpeech(ctx context.Context, doc *twiml.Document, t dialogue.Trace) {
	if t.AudioSrc == "" {
		if t.Message != "" {
			doc.Say(t.Message)
		}
		return
	}

	if !strings.HasPrefix(t.AudioSrc, "data:") {
		doc.Play(t.AudioSrc)
		return
	}

	url, err := i.audio.Materialize(ctx, t.AudioSrc)
	if err != nil {
		// Recoverable: speak the plain-text message instead, or drop the
		// directive when there is none.
		i.log.Warn("audio materialization failed", slog.String("error", err.Error()))
		if t.Message != "" {
			doc.Say(t.Message)
		}
		return
	}
	doc.Play(url)
}

func (i *Interpreter) gatherOptions() twiml.GatherOptions {
	return twiml.GatherOptions{
		Input:               "speech dtmf",
		NumDigits:           i.gather.NumDigits,
		FinishOnKey:         i.gather.FinishOnKey,
		Hints:               i.gather.Hints,
		Action:              i.gather.Action,
		Method:              i.gather.Method,
		SpeechModel:         i.gather.SpeechModel,
		SpeechTimeout:       i.gather.SpeechTimeout,
		Language:            i.gather.Language,
		Enhanced:            true,
		ActionOnEmptyResult: true,
		ProfanityFilter:     false,
	}
}
