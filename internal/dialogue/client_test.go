package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-labs/parley-bridge/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newClient(baseURL string) *Client {
	return NewClient(config.DialogueConfig{
		APIKey:        "VF.test-key",
		BaseURL:       baseURL,
		TranscriptURL: baseURL + "/v2/transcripts",
		VersionID:     "development",
		ProjectID:     "proj-1",
	}, newLogger())
}

func TestInteractRequestShape(t *testing.T) {
	var gotPath, gotAuth, gotSession, gotVersion string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get("sessionID")
		gotVersion = r.Header.Get("versionID")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`[{"type":"speak","payload":{"message":"Hello"}}]`))
	}))
	defer srv.Close()

	traces, err := newClient(srv.URL).Interact(context.Background(), "+1555 123", "sess-1", TextAction("hi"))
	if err != nil {
		t.Fatalf("interact: %v", err)
	}

	if gotPath != "/state/user/+1555%20123/interact" && gotPath != "/state/user/+1555 123/interact" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotAuth != "VF.test-key" || gotSession != "sess-1" || gotVersion != "development" {
		t.Fatalf("missing headers: auth=%q session=%q version=%q", gotAuth, gotSession, gotVersion)
	}
	action, _ := gotBody["action"].(map[string]any)
	if action["type"] != "text" || action["payload"] != "hi" {
		t.Fatalf("unexpected action: %v", gotBody["action"])
	}
	cfg, _ := gotBody["config"].(map[string]any)
	if cfg["tts"] != true || cfg["stripSSML"] != true {
		t.Fatalf("unexpected config: %v", gotBody["config"])
	}

	if len(traces) != 1 || traces[0].Kind != KindSpeak || traces[0].Message != "Hello" {
		t.Fatalf("unexpected traces: %+v", traces)
	}
}

func TestInteractUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Interact(context.Background(), "caller", "sess", LaunchAction())
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Status != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", upErr.Status)
	}
}

func TestTraceDecoding(t *testing.T) {
	payload := `[
		{"type":"text","payload":{"message":"plain"}},
		{"type":"speak","payload":{"message":"spoken","src":"data:audio/mpeg;base64,AAAA"}},
		{"type":"CALL","payload":"{\"number\":\"+15551234567\"}"},
		{"type":"SMS","payload":{"message":"Hi"}},
		{"type":"debug","payload":{"whatever":true}},
		{"type":"end"}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	traces, err := newClient(srv.URL).Interact(context.Background(), "caller", "sess", LaunchAction())
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	want := []Trace{
		{Kind: KindText, Message: "plain"},
		{Kind: KindSpeak, Message: "spoken", AudioSrc: "data:audio/mpeg;base64,AAAA"},
		{Kind: KindCall, Number: "+15551234567"},
		{Kind: KindSMS, Body: "Hi"},
		{Kind: KindUnknown},
		{Kind: KindEnd},
	}
	if len(traces) != len(want) {
		t.Fatalf("expected %d traces, got %d", len(want), len(traces))
	}
	for i := range want {
		if traces[i] != want[i] {
			t.Fatalf("trace %d mismatch: got %+v want %+v", i, traces[i], want[i])
		}
	}
	if !traces[2].Ends() || !traces[5].Ends() {
		t.Fatal("call-transfer and end traces must end the turn")
	}
	if traces[0].Ends() {
		t.Fatal("text trace must not end the turn")
	}
}

func TestDeleteState(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newClient(srv.URL).DeleteState(context.Background(), "caller-1"); err != nil {
		t.Fatalf("delete state: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
	if gotPath != "/state/user/caller-1" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
}

func TestSaveTranscript(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newClient(srv.URL).SaveTranscript(context.Background(), "sess-9", ""); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	if gotBody["sessionID"] != "sess-9" || gotBody["projectID"] != "proj-1" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	user, _ := gotBody["user"].(map[string]any)
	if user["name"] != "Anonymous" {
		t.Fatalf("expected anonymous fallback, got %v", user)
	}
}

func TestSaveTranscriptSkippedWithoutProject(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(config.DialogueConfig{
		BaseURL:       srv.URL,
		TranscriptURL: srv.URL + "/v2/transcripts",
		VersionID:     "development",
	}, newLogger())
	if err := client.SaveTranscript(context.Background(), "sess", "caller"); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if called {
		t.Fatal("transcript endpoint must not be called without a project id")
	}
}
