package dialogue

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates engine-emitted trace events.
type Kind string

const (
	KindText    Kind = "text"
	KindSpeak   Kind = "speak"
	KindCall    Kind = "call-transfer"
	KindSMS     Kind = "sms"
	KindEnd     Kind = "end"
	KindUnknown Kind = "unknown"
)

// Trace is one event in a turn's ordered trace sequence, decoded into the
// fields its kind carries.
type Trace struct {
	Kind     Kind
	Message  string // text/speak: message to speak
	AudioSrc string // text/speak: inline data URI or remote audio URL
	Number   string // call-transfer: destination number
	Body     string // sms: message body
}

// Ends reports whether this trace terminates further input gathering.
func (t Trace) Ends() bool {
	return t.Kind == KindCall || t.Kind == KindEnd
}

type wireTrace struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type speechPayload struct {
	Message string `json:"message"`
	Src     string `json:"src"`
}

type callPayload struct {
	Number string `json:"number"`
}

type smsPayload struct {
	Message string `json:"message"`
}

func decodeTraces(data []byte) ([]Trace, error) {
	var wire []wireTrace
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode trace sequence: %w", err)
	}

	traces := make([]Trace, 0, len(wire))
	for _, w := range wire {
		trace, err := decodeTrace(w)
		if err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func decodeTrace(w wireTrace) (Trace, error) {
	switch w.Type {
	case "text", "speak":
		var payload speechPayload
		if len(w.Payload) > 0 {
			if err := json.Unmarshal(w.Payload, &payload); err != nil {
				return Trace{}, fmt.Errorf("decode %s payload: %w", w.Type, err)
			}
		}
		kind := KindText
		if w.Type == "speak" {
			kind = KindSpeak
		}
		return Trace{Kind: kind, Message: payload.Message, AudioSrc: payload.Src}, nil
	case "CALL":
		var payload callPayload
		if err := unmarshalMaybeWrapped(w.Payload, &payload); err != nil {
			return Trace{}, fmt.Errorf("decode call payload: %w", err)
		}
		return Trace{Kind: KindCall, Number: payload.Number}, nil
	case "SMS":
		var payload smsPayload
		if err := unmarshalMaybeWrapped(w.Payload, &payload); err != nil {
			return Trace{}, fmt.Errorf("decode sms payload: %w", err)
		}
		return Trace{Kind: KindSMS, Body: payload.Message}, nil
	case "end":
		return Trace{Kind: KindEnd}, nil
	default:
		return Trace{Kind: KindUnknown}, nil
	}
}

// unmarshalMaybeWrapped handles payloads the engine sends either as objects
// or as JSON-encoded strings of objects.
func unmarshalMaybeWrapped(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		return json.Unmarshal([]byte(inner), target)
	}
	return json.Unmarshal(data, target)
}
