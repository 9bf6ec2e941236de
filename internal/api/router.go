package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/formatlab/annoserve/internal/middleware"
	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

// Router decodes HTTP requests into core operations and encodes their results.
// All study logic lives behind the services it wires up.
type Router struct {
	store       Store
	auth        *services.AuthService
	experiments *services.ExperimentService
	configs     *services.ConfigService
	registry    *services.RegistryService
	allocator   *services.AllocatorService
	progress    *services.ProgressService
	exports     *services.ExportService
}

func NewRouter(store Store) *Router {
	configs := services.NewConfigService(newConfigStoreAdapter(store))
	allocator := services.NewAllocatorService(newAllocatorStoreAdapter(store), configs)
	return &Router{
		store:       store,
		auth:        services.NewAuthService(newAuthStoreAdapter(store), middleware.SignToken),
		experiments: services.NewExperimentService(newExperimentStoreAdapter(store)),
		configs:     configs,
		registry:    services.NewRegistryService(newRegistryStoreAdapter(store), configs, allocator),
		allocator:   allocator,
		progress:    services.NewProgressService(newProgressStoreAdapter(store), allocator, configs),
		exports:     services.NewExportService(newExportStoreAdapter(store)),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleAuthRegister) // POST
	mux.HandleFunc("/api/auth/login", rt.handleAuthLogin)       // POST
	mux.HandleFunc("/api/experiments", rt.handleExperiments)    // POST
	mux.HandleFunc("/api/experiments/", rt.handleExperimentScoped)
	mux.HandleFunc("/api/participants/", rt.handleParticipantScoped)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service taxonomy onto HTTP statuses in one place.
func writeError(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalid:
		status = http.StatusBadRequest
	case services.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorForbidden:
		status = http.StatusForbidden
	case services.ErrorNotFound:
		status = http.StatusNotFound
	case services.ErrorConflict:
		status = http.StatusConflict
	case services.ErrorConfig, services.ErrorPoolExhausted:
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, se.Message, status)
}

// requireAdmin gates the operator surface behind the JWT middleware.
func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return claims.Email, true
}

// POST /api/auth/register
func (rt *Router) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"token": res.Token, "user_id": res.UserID})
}

// POST /api/auth/login
func (rt *Router) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"token": res.Token, "user_id": res.UserID})
}

// POST /api/experiments
func (rt *Router) handleExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := rt.experiments.Create(req.Name, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": e.ID, "name": e.Name, "status": e.Status})
}

// /api/experiments/{id}/{action}
func (rt *Router) handleExperimentScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/experiments/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "register":
		rt.handleRegister(w, r, id)
	case "config":
		rt.handleConfig(w, r, id)
	case "status":
		rt.handleStatus(w, r, id)
	case "prompts":
		rt.handlePrompts(w, r, id)
	case "export":
		rt.handleExport(w, r, id)
	case "reset":
		rt.handleReset(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// POST /api/experiments/{id}/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request, experimentID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.registry.Register(experimentID, req.ExternalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"participant_id":     res.ParticipantID,
		"completion_token":   res.CompletionToken,
		"design_type":        res.DesignType,
		"format_assigned":    res.FormatAssigned,
		"already_registered": res.AlreadyRegistered,
	})
}

// GET/PUT /api/experiments/{id}/config
func (rt *Router) handleConfig(w http.ResponseWriter, r *http.Request, experimentID string) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := rt.configs.Get(experimentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"experiment_id": experimentID, "config": cfg})
	case http.MethodPut:
		actor, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := rt.configs.Set(experimentID, req.Key, req.Value, actor); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/experiments/{id}/status
func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request, experimentID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rt.experiments.UpdateStatus(experimentID, models.ExperimentStatus(req.Status), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// POST /api/experiments/{id}/prompts
func (rt *Router) handlePrompts(w http.ResponseWriter, r *http.Request, experimentID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Shared  bool `json:"shared"`
		Prompts []struct {
			ID        string            `json:"id"`
			Text      string            `json:"text"`
			Responses map[string]string `json:"responses"`
			Source    string            `json:"source"`
			Category  string            `json:"category"`
		} `json:"prompts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	inputs := make([]services.PromptInput, 0, len(req.Prompts))
	for _, p := range req.Prompts {
		inputs = append(inputs, services.PromptInput{ID: p.ID, Text: p.Text, Responses: p.Responses, Source: p.Source, Category: p.Category})
	}
	n, err := rt.experiments.LoadPrompts(experimentID, req.Shared, inputs, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "loaded": n})
}

// GET /api/experiments/{id}/export
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request, experimentID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	b, err := rt.exports.AnnotationsCSV(experimentID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=annotations.csv")
	_, _ = w.Write(b)
}

// POST /api/experiments/{id}/reset
func (rt *Router) handleReset(w http.ResponseWriter, r *http.Request, experimentID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	removed, err := rt.experiments.Reset(experimentID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "participants_removed": removed})
}

// /api/participants/{id}/{action}
func (rt *Router) handleParticipantScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/participants/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]
	switch action {
	case "consent":
		rt.handleTransition(w, r, func() error { return rt.registry.RecordConsent(id) })
	case "instructions":
		rt.handleTransition(w, r, func() error { return rt.registry.RecordInstructionsDone(id) })
	case "complete":
		rt.handleComplete(w, r, id)
	case "progress":
		rt.handleProgress(w, r, id)
	case "next-task":
		rt.handleNextTask(w, r, id)
	case "annotations":
		rt.handleSubmit(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleTransition(w http.ResponseWriter, r *http.Request, op func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := op(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// POST /api/participants/{id}/complete
func (rt *Router) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, err := rt.registry.MarkComplete(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "completion_token": token})
}

// GET /api/participants/{id}/progress
func (rt *Router) handleProgress(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	view, err := rt.progress.Progress(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"completed":        view.Completed,
		"total":            view.Total,
		"progress_percent": view.Percent,
	})
}

// GET /api/participants/{id}/next-task
func (rt *Router) handleNextTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	task, err := rt.progress.NextTask(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.Done {
		writeJSON(w, map[string]any{"done": true})
		return
	}
	writeJSON(w, map[string]any{
		"done": false,
		"task": map[string]any{
			"prompt_id": task.PromptID,
			"format":    task.Format,
			"text":      task.Text,
			"responses": task.Responses,
		},
	})
}

// POST /api/participants/{id}/annotations
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PromptID    string          `json:"prompt_id"`
		Format      string          `json:"format"`
		Answer      json.RawMessage `json:"answer"`
		TimeSeconds int             `json:"time_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	annotationID, err := rt.progress.Submit(services.SubmitRequest{
		ParticipantID: id,
		PromptID:      req.PromptID,
		Format:        req.Format,
		Answer:        req.Answer,
		TimeSeconds:   req.TimeSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"annotation_id": annotationID})
}
