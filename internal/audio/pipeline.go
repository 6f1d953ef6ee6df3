// Package audio materializes inline-encoded trace audio into temporary,
// publicly fetchable files and guarantees their eventual cleanup.
package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parley-labs/parley-bridge/internal/config"
)

// Pipeline turns a base64 data URI into a transcoded temp file and returns
// the URL the provider should fetch. Source and output files are scheduled
// for deletion after the configured grace period.
type Pipeline struct {
	cfg        config.AudioConfig
	transcoder Transcoder
	cleaner    *Cleaner
	log        *slog.Logger
	clock      func() time.Time
	seq        atomic.Uint64
}

func NewPipeline(cfg config.AudioConfig, transcoder Transcoder, cleaner *Cleaner, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		transcoder: transcoder,
		cleaner:    cleaner,
		log:        log.With(slog.String("component", "audio-pipeline")),
		clock:      time.Now,
	}
}

// Materialize decodes the inline payload, transcodes it, and returns the
// public URL of the playable artifact.
func (p *Pipeline) Materialize(ctx context.Context, dataURI string) (string, error) {
	payload, err := decodeDataURI(dataURI)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	stamp := fmt.Sprintf("%d-%d", p.clock().UnixMilli(), p.seq.Add(1))
	rawName := fmt.Sprintf("raw-%s.mp3", stamp)
	tempName := fmt.Sprintf("temp-%s.mp3", stamp)
	rawPath := filepath.Join(p.cfg.TempDir, rawName)
	tempPath := filepath.Join(p.cfg.TempDir, tempName)

	if err := os.WriteFile(rawPath, payload, 0o644); err != nil {
		return "", fmt.Errorf("write raw artifact: %w", err)
	}

	if err := p.transcoder.Transcode(ctx, rawPath, tempPath); err != nil {
		if rmErr := os.Remove(rawPath); rmErr != nil {
			p.log.Warn("failed to remove raw artifact", slog.String("path", rawPath), slog.String("error", rmErr.Error()))
		}
		return "", err
	}

	p.cleaner.Schedule(tempName, tempPath, rawPath)

	url := strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/ivr/audio/" + tempName
	p.log.Debug("materialized audio artifact", slog.String("file", tempName))
	return url, nil
}

// TempDir exposes the artifact root for the retrieval endpoint.
func (p *Pipeline) TempDir() string { return p.cfg.TempDir }

func decodeDataURI(dataURI string) ([]byte, error) {
	idx := strings.Index(dataURI, ",")
	if idx < 0 || !strings.HasPrefix(dataURI, "data:") {
		return nil, fmt.Errorf("malformed data URI")
	}
	payload, err := base64.StdEncoding.DecodeString(dataURI[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return payload, nil
}
