// Package dialogue is the client for the remote conversation engine's state
// and transcript APIs.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-labs/parley-bridge/internal/config"
)

// UpstreamError reports a failed dialogue-engine call. It is not retried;
// the turn surfaces a fallback response instead.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dialogue %s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("dialogue %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Action is the caller input forwarded to the engine. A nil action is sent
// verbatim, which the engine treats as an empty turn.
type Action struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// LaunchAction starts a new conversation.
func LaunchAction() *Action {
	return &Action{Type: "launch"}
}

// TextAction forwards an utterance or DTMF digits as text input.
func TextAction(payload string) *Action {
	return &Action{Type: "text", Payload: payload}
}

type interactConfig struct {
	TTS       bool     `json:"tts"`
	StripSSML bool     `json:"stripSSML"`
	StopTypes []string `json:"stopTypes"`
}

type interactRequest struct {
	Action *Action        `json:"action"`
	Config interactConfig `json:"config"`
}

// Client talks to the dialogue engine.
type Client struct {
	cfg        config.DialogueConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.DialogueConfig, log *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With(slog.String("component", "dialogue")),
	}
}

// Interact forwards one caller action and returns the ordered trace sequence.
func (c *Client) Interact(ctx context.Context, caller, session string, action *Action) ([]Trace, error) {
	endpoint := fmt.Sprintf("%s/state/user/%s/interact", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(caller))

	body, err := json.Marshal(interactRequest{
		Action: action,
		Config: interactConfig{TTS: true, StripSSML: true, StopTypes: []string{"DTMF"}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal interact request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build interact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("sessionID", session)
	req.Header.Set("versionID", c.cfg.VersionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "interact", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: "interact", Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Op: "interact", Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	}

	return decodeTraces(data)
}

// DeleteState clears the caller's remote conversation state.
func (c *Client) DeleteState(ctx context.Context, caller string) error {
	endpoint := fmt.Sprintf("%s/state/user/%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(caller))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("versionID", c.cfg.VersionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: "delete state", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &UpstreamError{Op: "delete state", Status: resp.StatusCode}
	}
	return nil
}

type transcriptUser struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type transcriptRequest struct {
	Browser   string         `json:"browser"`
	Device    string         `json:"device"`
	OS        string         `json:"os"`
	SessionID string         `json:"sessionID"`
	Unread    bool           `json:"unread"`
	VersionID string         `json:"versionID"`
	ProjectID string         `json:"projectID"`
	User      transcriptUser `json:"user"`
}

const transcriptUserImage = "https://s3.amazonaws.com/com.voiceflow.studio/share/twilio-logo-png-transparent/twilio-logo-png-transparent.png"

// SaveTranscript persists the session transcript upstream. A no-op when no
// project is configured.
func (c *Client) SaveTranscript(ctx context.Context, session, callerName string) error {
	if c.cfg.ProjectID == "" {
		return nil
	}
	if strings.TrimSpace(callerName) == "" {
		callerName = "Anonymous"
	}

	body, err := json.Marshal(transcriptRequest{
		Browser:   "Twilio",
		Device:    "Phone",
		OS:        "Twilio",
		SessionID: session,
		Unread:    true,
		VersionID: c.cfg.VersionID,
		ProjectID: c.cfg.ProjectID,
		User:      transcriptUser{Name: callerName, Image: transcriptUserImage},
	})
	if err != nil {
		return fmt.Errorf("marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.TranscriptURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transcript request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: "save transcript", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &UpstreamError{Op: "save transcript", Status: resp.StatusCode}
	}
	return nil
}
