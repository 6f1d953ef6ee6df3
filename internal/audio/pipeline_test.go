package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parley-labs/parley-bridge/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type copyTranscoder struct{}

func (copyTranscoder) Transcode(_ context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

type failTranscoder struct{}

func (failTranscoder) Transcode(_ context.Context, _, _ string) error {
	return &TranscodeError{Detail: "unsupported codec", Err: errors.New("exit status 1")}
}

// manualCleaner returns a cleaner whose timers never fire on their own; the
// returned func fires all captured callbacks.
func manualCleaner(t *testing.T) (*Cleaner, func()) {
	t.Helper()
	c := NewCleaner(30*time.Second, newLogger())
	var fns []func()
	c.after = func(_ time.Duration, fn func()) func() bool {
		fns = append(fns, fn)
		return func() bool { return true }
	}
	return c, func() {
		for _, fn := range fns {
			fn()
		}
		fns = nil
	}
}

func dataURI(payload string) string {
	return "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

func newPipeline(t *testing.T, tr Transcoder) (*Pipeline, *Cleaner, func()) {
	t.Helper()
	cfg := config.AudioConfig{
		TempDir:       filepath.Join(t.TempDir(), "tmp"),
		PublicBaseURL: "https://bridge.example.com/",
		SampleRate:    16000,
		Channels:      1,
		Bitrate:       "64k",
	}
	cleaner, fire := manualCleaner(t)
	return NewPipeline(cfg, tr, cleaner, newLogger()), cleaner, fire
}

func TestMaterializeRoundTrip(t *testing.T) {
	p, cleaner, fire := newPipeline(t, copyTranscoder{})

	url, err := p.Materialize(context.Background(), dataURI("fake mp3 bytes"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !strings.HasPrefix(url, "https://bridge.example.com/ivr/audio/temp-") {
		t.Fatalf("unexpected url: %s", url)
	}
	if !strings.HasSuffix(url, ".mp3") {
		t.Fatalf("url must end in .mp3: %s", url)
	}

	name := url[strings.LastIndex(url, "/")+1:]
	tempPath := filepath.Join(p.TempDir(), name)
	if _, err := os.Stat(tempPath); err != nil {
		t.Fatalf("artifact missing right after materialization: %v", err)
	}
	if got := cleaner.Pending(); len(got) != 1 || got[0] != name {
		t.Fatalf("expected one pending cleanup for %s, got %v", name, got)
	}

	fire()
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("artifact still present after grace period: %v", err)
	}
	entries, err := os.ReadDir(p.TempDir())
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("raw artifact not cleaned up: %v", entries)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	p, cleaner, fire := newPipeline(t, copyTranscoder{})

	url, err := p.Materialize(context.Background(), dataURI("payload"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	name := url[strings.LastIndex(url, "/")+1:]

	fire()
	// Second run on an already-deleted artifact must not panic or error.
	cleaner.Run(name)
	cleaner.Run(name)
	if len(cleaner.Pending()) != 0 {
		t.Fatalf("pending not empty: %v", cleaner.Pending())
	}
}

func TestCancelKeepsArtifact(t *testing.T) {
	p, cleaner, fire := newPipeline(t, copyTranscoder{})

	url, err := p.Materialize(context.Background(), dataURI("payload"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	name := url[strings.LastIndex(url, "/")+1:]

	if !cleaner.Cancel(name) {
		t.Fatal("expected cancel to find pending entry")
	}
	fire()
	if _, err := os.Stat(filepath.Join(p.TempDir(), name)); err != nil {
		t.Fatalf("cancelled artifact was deleted: %v", err)
	}
}

func TestTranscodeFailureSurfacesTypedError(t *testing.T) {
	p, cleaner, _ := newPipeline(t, failTranscoder{})

	_, err := p.Materialize(context.Background(), dataURI("payload"))
	var tErr *TranscodeError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if len(cleaner.Pending()) != 0 {
		t.Fatalf("no cleanup should be scheduled on failure: %v", cleaner.Pending())
	}
	entries, readErr := os.ReadDir(p.TempDir())
	if readErr != nil {
		t.Fatalf("read temp dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("raw file must be removed on transcode failure: %v", entries)
	}
}

func TestMalformedDataURI(t *testing.T) {
	p, _, _ := newPipeline(t, copyTranscoder{})
	if _, err := p.Materialize(context.Background(), "not a data uri"); err == nil {
		t.Fatal("expected error for malformed data uri")
	}
}

func TestDrainRemovesEverything(t *testing.T) {
	p, cleaner, _ := newPipeline(t, copyTranscoder{})
	if _, err := p.Materialize(context.Background(), dataURI("one")); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if _, err := p.Materialize(context.Background(), dataURI("two")); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	cleaner.Drain()
	entries, err := os.ReadDir(p.TempDir())
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir after drain, got %v", entries)
	}
}
