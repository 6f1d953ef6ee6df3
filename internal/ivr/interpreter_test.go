package ivr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/parley-labs/parley-bridge/internal/config"
	"github.com/parley-labs/parley-bridge/internal/dialogue"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAudio struct {
	url   string
	err   error
	calls []string
}

func (f *fakeAudio) Materialize(_ context.Context, dataURI string) (string, error) {
	f.calls = append(f.calls, dataURI)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newInterpreter(audio Materializer) *Interpreter {
	return NewInterpreter(audio, config.Default().Gather, newLogger())
}

func render(t *testing.T, res *Result) string {
	t.Helper()
	out, err := res.Document.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

func TestSpeakTraceGathersInput(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, Message: "Hello"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if res.Ended {
		t.Fatal("speak-only turn must not end")
	}
	out := render(t, res)
	if !strings.Contains(out, "<Say>Hello</Say>") {
		t.Fatalf("expected say directive: %s", out)
	}
	if strings.Count(out, "<Gather") != 1 {
		t.Fatalf("expected exactly one gather: %s", out)
	}
	if !res.Document.HasGather() {
		t.Fatal("expected gather attached")
	}
}

func TestEndTraceHangsUpWithoutGather(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindEnd},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if !res.Ended {
		t.Fatal("end trace must end the turn")
	}
	out := render(t, res)
	if !strings.Contains(out, "<Hangup></Hangup>") {
		t.Fatalf("expected hangup: %s", out)
	}
	if strings.Contains(out, "<Gather") {
		t.Fatalf("ended turn must not gather: %s", out)
	}
}

func TestEndedLookaheadSuppressesGatherForEarlierTraces(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, Message: "Goodbye"},
		{Kind: dialogue.KindEnd},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	out := render(t, res)
	if strings.Contains(out, "<Gather") {
		t.Fatalf("lookahead must suppress gather: %s", out)
	}
	if strings.Index(out, "<Say>Goodbye</Say>") > strings.Index(out, "<Hangup>") {
		t.Fatalf("directive order not preserved: %s", out)
	}
}

func TestCallTransferSuppressesGather(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindCall, Number: "+15557654321"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if !res.Ended {
		t.Fatal("call transfer must end the turn")
	}
	out := render(t, res)
	if !strings.Contains(out, "<Dial>+15557654321</Dial>") {
		t.Fatalf("expected dial: %s", out)
	}
	if strings.Contains(out, "<Gather") {
		t.Fatalf("transfer turn must not gather: %s", out)
	}
}

func TestSMSTraceProducesEffectNotDirective(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSMS, Body: "Hi"},
		{Kind: dialogue.KindEnd},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if len(res.SMS) != 1 {
		t.Fatalf("expected one sms effect, got %d", len(res.SMS))
	}
	if res.SMS[0].To != "+15550001111" || res.SMS[0].Body != "Hi" {
		t.Fatalf("unexpected sms effect: %+v", res.SMS[0])
	}
	out := render(t, res)
	if strings.Contains(out, "Hi") {
		t.Fatalf("sms body must not appear in the document: %s", out)
	}
	if !strings.Contains(out, "<Hangup>") || strings.Contains(out, "<Gather") {
		t.Fatalf("expected terminal document: %s", out)
	}
}

func TestInlineAudioMaterialized(t *testing.T) {
	audio := &fakeAudio{url: "https://bridge.example.com/ivr/audio/temp-9.mp3"}
	interp := newInterpreter(audio)
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, Message: "Hello", AudioSrc: "data:audio/mpeg;base64,AAAA"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if len(audio.calls) != 1 {
		t.Fatalf("expected one materialize call, got %d", len(audio.calls))
	}
	out := render(t, res)
	if !strings.Contains(out, "<Play>https://bridge.example.com/ivr/audio/temp-9.mp3</Play>") {
		t.Fatalf("expected play directive with artifact url: %s", out)
	}
	if strings.Contains(out, "<Say>") {
		t.Fatalf("message must not be spoken when audio plays: %s", out)
	}
}

func TestRemoteAudioPlayedDirectly(t *testing.T) {
	audio := &fakeAudio{}
	interp := newInterpreter(audio)
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, AudioSrc: "https://cdn.example.com/prompt.mp3"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if len(audio.calls) != 0 {
		t.Fatal("remote urls must not hit the pipeline")
	}
	out := render(t, res)
	if !strings.Contains(out, "<Play>https://cdn.example.com/prompt.mp3</Play>") {
		t.Fatalf("expected direct play: %s", out)
	}
}

func TestTranscodeFailureFallsBackToSay(t *testing.T) {
	audio := &fakeAudio{err: errors.New("transcode failed: exit status 1")}
	interp := newInterpreter(audio)
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, Message: "Hello", AudioSrc: "data:audio/mpeg;base64,AAAA"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret must recover from transcode failure: %v", err)
	}
	out := render(t, res)
	if !strings.Contains(out, "<Say>Hello</Say>") {
		t.Fatalf("expected say fallback: %s", out)
	}
	if strings.Contains(out, "<Play>") {
		t.Fatalf("no play expected on failure: %s", out)
	}
}

func TestTranscodeFailureWithoutMessageOmitsDirective(t *testing.T) {
	audio := &fakeAudio{err: errors.New("transcode failed")}
	interp := newInterpreter(audio)
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindSpeak, AudioSrc: "data:audio/mpeg;base64,AAAA"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	out := render(t, res)
	if strings.Contains(out, "<Say>") || strings.Contains(out, "<Play>") {
		t.Fatalf("directive must be omitted: %s", out)
	}
}

func TestUnknownTraceIgnored(t *testing.T) {
	interp := newInterpreter(&fakeAudio{})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindUnknown},
		{Kind: dialogue.KindText, Message: "after"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	out := render(t, res)
	if !strings.Contains(out, "<Say>after</Say>") {
		t.Fatalf("expected text trace to survive: %s", out)
	}
	if len(res.SMS) != 0 {
		t.Fatal("unknown traces must not produce effects")
	}
}

func TestDirectiveOrderMatchesTraceOrder(t *testing.T) {
	interp := newInterpreter(&fakeAudio{url: "https://bridge.example.com/ivr/audio/temp-1.mp3"})
	res, err := interp.Interpret(context.Background(), []dialogue.Trace{
		{Kind: dialogue.KindText, Message: "one"},
		{Kind: dialogue.KindSpeak, AudioSrc: "data:audio/mpeg;base64,AAAA"},
		{Kind: dialogue.KindText, Message: "three"},
	}, "+15550001111")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	out := render(t, res)
	one := strings.Index(out, "<Say>one</Say>")
	play := strings.Index(out, "<Play>")
	three := strings.Index(out, "<Say>three</Say>")
	if one == -1 || play == -1 || three == -1 || !(one < play && play < three) {
		t.Fatalf("directive order broken: %s", out)
	}
}
