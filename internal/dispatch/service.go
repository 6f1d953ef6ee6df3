// Package dispatch delivers queued side effects. Turn handlers publish jobs
// to the bus and return immediately; this service consumes them, talks to the
// external providers, and logs failures without ever surfacing them to a call.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/parley-labs/parley-bridge/internal/bus"
	"github.com/parley-labs/parley-bridge/internal/protocol"
)

// SMSSender sends one outbound text message.
type SMSSender interface {
	Send(ctx context.Context, to, from, body string) (string, error)
}

// TranscriptStore persists transcripts and clears remote caller state.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, session, callerName string) error
	DeleteState(ctx context.Context, caller string) error
}

type Service struct {
	bus            *bus.Client
	sms            SMSSender
	transcripts    TranscriptStore
	resetOnEnd     bool
	logger         *slog.Logger
	subSMS         *nats.Subscription
	subTranscripts *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, sms SMSSender, transcripts TranscriptStore, resetOnEnd bool, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:         busClient,
		sms:         sms,
		transcripts: transcripts,
		resetOnEnd:  resetOnEnd,
		logger:      logger.With(slog.String("component", "dispatch")),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSMSSend, s.handleSMS)
	if err != nil {
		return err
	}
	s.subSMS = sub

	subTranscripts, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptSave, s.handleTranscript)
	if err != nil {
		s.subSMS.Drain()
		return err
	}
	s.subTranscripts = subTranscripts
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subSMS != nil {
		_ = s.subSMS.Drain()
	}
	if s.subTranscripts != nil {
		_ = s.subTranscripts.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subSMS != nil && s.subTranscripts != nil
}

func (s *Service) handleSMS(msg *nats.Msg) {
	var job protocol.SMSJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		s.logger.Warn("failed to decode sms job", slogError(err))
		return
	}
	if job.To == "" || job.Body == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sid, err := s.sms.Send(s.ctx, job.To, job.From, job.Body)
		if err != nil {
			s.logger.Warn("sms send failed",
				slog.String("turn_id", job.TurnID),
				slog.String("to", job.To),
				slogError(err))
			return
		}
		s.logger.Info("sms sent",
			slog.String("turn_id", job.TurnID),
			slog.String("sid", sid))
	}()
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var job protocol.TranscriptJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		s.logger.Warn("failed to decode transcript job", slogError(err))
		return
	}
	if job.SessionID == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.transcripts.SaveTranscript(s.ctx, job.SessionID, job.Caller); err != nil {
			s.logger.Warn("transcript save failed",
				slog.String("turn_id", job.TurnID),
				slogError(err))
		}
		if job.Ended && s.resetOnEnd {
			if err := s.transcripts.DeleteState(s.ctx, job.Caller); err != nil {
				s.logger.Warn("remote state reset failed",
					slog.String("turn_id", job.TurnID),
					slogError(err))
			}
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
