// Package handler is the HTTP intake surface: it decodes submission
// requests, hands them to the Dispatcher, and renders Store lookups back
// as JSON. It carries none of the engine's invariants itself — those
// live in registry/sandbox/executor/dispatcher/store — this package is
// ambient wiring so the core is reachable over the network.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sandboxrun/engine/internal/dispatcher"
	"github.com/sandboxrun/engine/internal/registry"
	"github.com/sandboxrun/engine/internal/store"
	"github.com/sandboxrun/engine/internal/types"
)

// Handler serves the engine's REST surface.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	store      store.Store
	registry   *registry.Registry
	logger     *logrus.Logger
}

// NewHandler builds a Handler.
func NewHandler(d *dispatcher.Dispatcher, s store.Store, r *registry.Registry, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{dispatcher: d, store: s, registry: r, logger: logger}
}

// submissionRequest is the wire shape accepted by CreateSubmission,
// named after the fields of types.Submission a client is allowed to set.
type submissionRequest struct {
	LanguageKey          string             `json:"language_key"`
	LanguageVersion      string             `json:"language_version,omitempty"`
	SourceCode           string             `json:"source_code"`
	Stdin                string             `json:"stdin,omitempty"`
	CompilerOptions      string             `json:"compiler_options,omitempty"`
	CommandLineArguments string             `json:"command_line_arguments,omitempty"`
	AdditionalFiles      string             `json:"additional_files,omitempty"`
	ExpectedOutput       *string            `json:"expected_output,omitempty"`
	Limits               types.ResourceLimits `json:"limits,omitempty"`
	NumberOfRuns         int                `json:"number_of_runs,omitempty"`
	RedirectStderrToStdout bool             `json:"redirect_stderr_to_stdout,omitempty"`
	EnableNetwork        bool               `json:"enable_network,omitempty"`
	CallbackURL          string             `json:"callback_url,omitempty"`
	Priority             int                `json:"priority,omitempty"`
}

func (req submissionRequest) toSubmission() *types.Submission {
	now := time.Now()
	id := uuid.NewString()
	return &types.Submission{
		ID:                     id,
		Token:                  id,
		LanguageKey:            req.LanguageKey,
		LanguageVersion:        req.LanguageVersion,
		SourceCode:             req.SourceCode,
		Stdin:                  req.Stdin,
		CompilerOptions:        req.CompilerOptions,
		CommandLineArguments:   req.CommandLineArguments,
		AdditionalFiles:        req.AdditionalFiles,
		ExpectedOutput:         req.ExpectedOutput,
		Limits:                 req.Limits,
		NumberOfRuns:           req.NumberOfRuns,
		RedirectStderrToStdout: req.RedirectStderrToStdout,
		EnableNetwork:          req.EnableNetwork,
		CallbackURL:            req.CallbackURL,
		Priority:               req.Priority,
		Status:                 types.StatusQueued,
		CreatedAt:              now,
	}
}

func (h *Handler) validate(req submissionRequest) error {
	if strings.TrimSpace(req.LanguageKey) == "" {
		return errors.New("language_key is required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return errors.New("source_code is required")
	}
	if _, err := h.registry.LookupVersion(req.LanguageKey, req.LanguageVersion); err != nil {
		return err
	}
	return nil
}

// CreateSubmission handles POST /api/v1/submissions.
func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate(req); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := req.toSubmission()
	if err := h.dispatcher.Submit(r.Context(), sub); err != nil {
		var full *dispatcher.ErrQueueFull
		if errors.As(err, &full) {
			h.sendError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.WithError(err).Error("handler: failed to submit")
		h.sendError(w, http.StatusInternalServerError, "failed to submit")
		return
	}

	h.sendJSON(w, http.StatusCreated, map[string]string{"token": sub.Token})
}

// CreateBatch handles POST /api/v1/submissions/batch.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []submissionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reqs); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqs) == 0 {
		h.sendError(w, http.StatusBadRequest, "submissions must be a non-empty array")
		return
	}

	tokens := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if err := h.validate(req); err != nil {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for _, req := range reqs {
		sub := req.toSubmission()
		if err := h.dispatcher.Submit(r.Context(), sub); err != nil {
			h.logger.WithError(err).Error("handler: failed to submit batch item")
			h.sendError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		tokens = append(tokens, sub.Token)
	}
	h.sendJSON(w, http.StatusCreated, map[string][]string{"tokens": tokens})
}

// GetSubmission handles GET /api/v1/submissions/{token}.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := h.store.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "submission not found")
			return
		}
		h.sendError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	h.sendJSON(w, http.StatusOK, sub)
}

// GetSubmissions handles GET /api/v1/submissions?tokens=a,b,c.
func (h *Handler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	tokensParam := r.URL.Query().Get("tokens")
	if tokensParam == "" {
		h.sendError(w, http.StatusBadRequest, "tokens query parameter is required")
		return
	}
	tokens := strings.Split(tokensParam, ",")
	out := make([]*types.Submission, 0, len(tokens))
	for _, token := range tokens {
		sub, err := h.store.GetByToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			out = append(out, nil)
			continue
		}
		out = append(out, sub)
	}
	h.sendJSON(w, http.StatusOK, out)
}

// CancelSubmission handles DELETE /api/v1/submissions/{token}.
func (h *Handler) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := h.store.GetByToken(r.Context(), token)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err := h.dispatcher.Cancel(r.Context(), sub.ID); err != nil {
		h.logger.WithError(err).Error("handler: failed to cancel")
		h.sendError(w, http.StatusInternalServerError, "failed to cancel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLanguages handles GET /api/v1/languages.
func (h *Handler) GetLanguages(w http.ResponseWriter, r *http.Request) {
	langs := h.registry.Defaults()
	type languageInfo struct {
		Key      string   `json:"key"`
		Aliases  []string `json:"aliases,omitempty"`
		Compiled bool     `json:"compiled"`
	}
	out := make([]languageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, languageInfo{Key: l.Key, Aliases: l.Aliases, Compiled: l.Compiled()})
	}
	h.sendJSON(w, http.StatusOK, out)
}

// GetVersion handles GET /.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"name": "sandboxrun-engine", "version": "1.0.0"})
}

func (h *Handler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, map[string]string{"message": message})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("handler: failed to encode response")
	}
}
