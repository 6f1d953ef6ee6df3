package protocol

import "time"

// SMSJob asks the dispatcher to send an outbound text message.
type SMSJob struct {
	To        string    `json:"to"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	TurnID    string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptJob asks the dispatcher to persist a conversation transcript
// with the remote dialogue service. Ended marks the turn that closed the
// session; the dispatcher clears remote caller state for ended turns when
// reset-on-end is enabled.
type TranscriptJob struct {
	Caller    string    `json:"caller"`
	SessionID string    `json:"session_id"`
	Ended     bool      `json:"ended"`
	TurnID    string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSMSSend        = "sideeffect.sms.send"
	SubjectTranscriptSave = "sideeffect.transcript.save"
)
