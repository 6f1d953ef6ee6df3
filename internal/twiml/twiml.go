// Package twiml builds the call-control response document returned to the
// telephony provider after each turn.
package twiml

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrTerminal is returned when a gather is requested after a dial or hangup
// directive already made the document terminal.
var ErrTerminal = errors.New("twiml: document is terminal, gather not allowed")

// ErrGatherAttached is returned when a second gather is requested.
var ErrGatherAttached = errors.New("twiml: gather already attached")

// SayElement speaks a message with the provider's built-in voice.
type SayElement struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// PlayElement plays audio fetched from a URL.
type PlayElement struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// DialElement connects the caller to another number.
type DialElement struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

// HangupElement ends the call.
type HangupElement struct {
	XMLName xml.Name `xml:"Hangup"`
}

// GatherElement solicits speech or DTMF input, optionally wrapping prompts
// that play while the provider listens.
type GatherElement struct {
	XMLName             xml.Name `xml:"Gather"`
	Input               string   `xml:"input,attr,omitempty"`
	Language            string   `xml:"language,attr,omitempty"`
	Hints               string   `xml:"hints,attr,omitempty"`
	NumDigits           int      `xml:"numDigits,attr,omitempty"`
	FinishOnKey         string   `xml:"finishOnKey,attr,omitempty"`
	Action              string   `xml:"action,attr,omitempty"`
	Method              string   `xml:"method,attr,omitempty"`
	SpeechModel         string   `xml:"speechModel,attr,omitempty"`
	SpeechTimeout       string   `xml:"speechTimeout,attr,omitempty"`
	Enhanced            bool     `xml:"enhanced,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr,omitempty"`
	ProfanityFilter     string   `xml:"profanityFilter,attr,omitempty"`
	Verbs               []any
}

// ResponseElement is the document root.
type ResponseElement struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// GatherOptions configures the input-gathering directive.
type GatherOptions struct {
	Input               string
	NumDigits           int
	FinishOnKey         string
	Hints               string
	Action              string
	Method              string
	SpeechModel         string
	SpeechTimeout       string
	Language            string
	Enhanced            bool
	ActionOnEmptyResult bool
	ProfanityFilter     bool
}

// Document accumulates directives for one turn. When a gather is attached,
// say and play directives nest inside it; dial and hangup always attach at
// the top level and make the document terminal.
type Document struct {
	gather   *GatherElement
	verbs    []any
	terminal bool
}

func New() *Document {
	return &Document{}
}

// AttachGather must be called before the prompts it should wrap; the
// provider requires the gather to be the outermost directive.
func (d *Document) AttachGather(opts GatherOptions) error {
	if d.terminal {
		return ErrTerminal
	}
	if d.gather != nil {
		return ErrGatherAttached
	}
	input := opts.Input
	if input == "" {
		input = "speech dtmf"
	}
	profanity := ""
	if !opts.ProfanityFilter {
		profanity = "false"
	}
	gather := &GatherElement{
		Input:               input,
		Language:            opts.Language,
		Hints:               opts.Hints,
		NumDigits:           opts.NumDigits,
		FinishOnKey:         opts.FinishOnKey,
		Action:              opts.Action,
		Method:              opts.Method,
		SpeechModel:         opts.SpeechModel,
		SpeechTimeout:       opts.SpeechTimeout,
		Enhanced:            opts.Enhanced,
		ActionOnEmptyResult: opts.ActionOnEmptyResult,
		ProfanityFilter:     profanity,
	}
	d.gather = gather
	d.verbs = append(d.verbs, gather)
	return nil
}

// Say appends a spoken message.
func (d *Document) Say(text string) {
	d.appendPrompt(&SayElement{Text: text})
}

// Play appends an audio playback directive.
func (d *Document) Play(url string) {
	d.appendPrompt(&PlayElement{URL: url})
}

func (d *Document) appendPrompt(verb any) {
	if d.gather != nil {
		d.gather.Verbs = append(d.gather.Verbs, verb)
		return
	}
	d.verbs = append(d.verbs, verb)
}

// Dial transfers the call and makes the document terminal.
func (d *Document) Dial(number string) {
	d.verbs = append(d.verbs, &DialElement{Number: number})
	d.terminal = true
}

// Hangup ends the call and makes the document terminal.
func (d *Document) Hangup() {
	d.verbs = append(d.verbs, &HangupElement{})
	d.terminal = true
}

// Terminal reports whether a dial or hangup directive has been added.
func (d *Document) Terminal() bool { return d.terminal }

// HasGather reports whether an input-gathering directive is attached.
func (d *Document) HasGather() bool { return d.gather != nil }

// Render serializes the accumulated directives.
func (d *Document) Render() (string, error) {
	resp := &ResponseElement{Verbs: d.verbs}
	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal response document: %w", err)
	}
	return xml.Header + string(out), nil
}
