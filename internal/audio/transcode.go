package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"
)

// TranscodeError reports a failed audio conversion. The turn recovers from
// it by falling back to a spoken message.
type TranscodeError struct {
	Detail string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("transcode failed: %v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("transcode failed: %v", e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Transcoder converts a raw audio file into a telephony-acceptable encoding.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegTranscoder shells out to ffmpeg to produce mono 16kHz MP3 output.
type FFmpegTranscoder struct {
	cmd        []string
	sampleRate int
	channels   int
	bitrate    string
}

func NewFFmpegTranscoder(command string, sampleRate, channels int, bitrate string) (*FFmpegTranscoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("ffmpeg command empty")
	}
	return &FFmpegTranscoder{
		cmd:        args,
		sampleRate: sampleRate,
		channels:   channels,
		bitrate:    bitrate,
	}, nil
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	base := t.cmd[0]
	args := append([]string{}, t.cmd[1:]...)
	args = append(args,
		"-y",
		"-i", inputPath,
		"-ar", strconv.Itoa(t.sampleRate),
		"-ac", strconv.Itoa(t.channels),
		"-b:a", t.bitrate,
		"-f", "mp3",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &TranscodeError{Detail: stderr.String(), Err: err}
	}
	return nil
}
