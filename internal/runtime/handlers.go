package runtime

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider webhooks post form-encoded call events. Turn handlers always
// answer 200 with a call-control document; the orchestrator substitutes an
// apology document when a turn fails, so the caller never hears a dead line.

func (r *Runtime) handleLaunch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := callerFrom(req)
	if caller == "" {
		http.Error(w, "missing caller", http.StatusBadRequest)
		return
	}

	start := time.Now()
	doc, err := r.orch.Launch(req.Context(), caller)
	r.metrics.record(req.Context(), "launch", time.Since(start), err)
	writeDocument(w, doc)
}

func (r *Runtime) handleInteraction(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := callerFrom(req)
	if caller == "" {
		http.Error(w, "missing caller", http.StatusBadRequest)
		return
	}

	if req.PostFormValue("CallStatus") == "completed" {
		if err := r.orch.CompleteCall(req.Context(), caller); err != nil {
			r.logger.Warn("call completion cleanup failed", slog.String("error", err.Error()))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	doc, err := r.orch.Interaction(req.Context(), caller, req.PostFormValue("SpeechResult"), req.PostFormValue("Digits"))
	r.metrics.record(req.Context(), "interaction", time.Since(start), err)
	writeDocument(w, doc)
}

// handleAudio serves transcoded artifacts until their cleanup timer fires.
func (r *Runtime) handleAudio(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/ivr/audio/")
	if name == "" || name != filepath.Base(name) {
		http.Error(w, "bad filename", http.StatusBadRequest)
		return
	}
	path := filepath.Join(r.audioDir, name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, req)
		return
	}
	http.ServeFile(w, req, path)
}

func callerFrom(req *http.Request) string {
	if caller := req.PostFormValue("Caller"); caller != "" {
		return caller
	}
	return req.PostFormValue("From")
}

func writeDocument(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
