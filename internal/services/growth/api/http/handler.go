package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/rockettree/internal/platform/errors"
	"github.com/louisbranch/rockettree/internal/platform/httpx"
	"github.com/louisbranch/rockettree/internal/platform/id"
	"github.com/louisbranch/rockettree/internal/platform/requestctx"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
	"github.com/louisbranch/rockettree/internal/services/growth/storage"
)

const maxEventsLimit = 1000

// StateReader reads growth state.
type StateReader interface {
	GetGrowthState(ctx context.Context, userID string) (growth.State, error)
}

// EventReader queries the progression event log.
type EventReader interface {
	ListEvents(ctx context.Context, query storage.EventQuery) ([]progression.Event, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Actions  storage.ActionStore
	States   StateReader
	Events   EventReader
	Verifier TokenVerifier
	Logger   *zap.Logger
	Clock    func() time.Time
	NewID    func() (string, error)
}

type handler struct {
	actions storage.ActionStore
	states  StateReader
	events  EventReader
	logger  *zap.Logger
	clock   func() time.Time
	newID   func() (string, error)
}

// NewHandler builds the authenticated API handler.
func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Actions == nil || deps.States == nil || deps.Events == nil {
		return nil, fmt.Errorf("growth stores are required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = id.NewID
	}
	h := &handler{
		actions: deps.Actions,
		states:  deps.States,
		events:  deps.Events,
		logger:  deps.Logger,
		clock:   deps.Clock,
		newID:   deps.NewID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts", h.createAccount)
	mux.HandleFunc("GET /tree/state", h.getState)
	mux.HandleFunc("GET /progression/events", h.listEvents)
	mux.HandleFunc("POST /tasks", h.createTask)
	mux.HandleFunc("PATCH /tasks/{taskId}", h.updateTask)
	mux.HandleFunc("POST /reflections", h.createReflection)

	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RecoverPanic(deps.Logger),
		httpx.AccessLog(deps.Logger),
		RequireUser(deps.Verifier),
	), nil
}

type accountResponse struct {
	UserID string `json:"userId"`
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.actions.CreateAccount(ctx, userID, h.clock().UTC()); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, accountResponse{UserID: userID})
}

type stateResponse struct {
	UserID        string    `json:"userId"`
	Mass          float64   `json:"mass"`
	Structure     float64   `json:"structure"`
	Vitality      float64   `json:"vitality"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	Version       uint64    `json:"version"`
}

func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	state, err := h.states.GetGrowthState(ctx, userID)
	if err != nil {
		if errors.Is(err, growth.ErrStateNotFound) {
			err = apperrors.Wrap(apperrors.CodeGrowthStateNotFound, "growth state not found", err)
		}
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, stateResponse{
		UserID:        state.UserID,
		Mass:          state.Mass,
		Structure:     state.Structure,
		Vitality:      state.Vitality,
		LastUpdatedAt: state.LastUpdatedAt,
		Version:       state.Version,
	})
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	query, err := parseEventQuery(userID, r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	events, err := h.events.ListEvents(ctx, query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, events)
}

func parseEventQuery(userID string, r *http.Request) (storage.EventQuery, error) {
	query := storage.EventQuery{UserID: userID}
	values := r.URL.Query()
	if raw := strings.TrimSpace(values.Get("sinceUtc")); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return storage.EventQuery{}, apperrors.WithMetadata(apperrors.CodeInvalidSinceUTC, "sinceUtc must be an RFC 3339 timestamp", map[string]string{"sinceUtc": raw})
		}
		since = since.UTC()
		query.Since = &since
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxEventsLimit {
			return storage.EventQuery{}, apperrors.WithMetadata(apperrors.CodeInvalidLimit, "limit must be between 1 and 1000", map[string]string{"limit": raw})
		}
		query.Limit = limit
	}
	return query, nil
}

type createTaskRequest struct {
	ProjectID      string `json:"projectId"`
	Title          string `json:"title"`
	Notes          string `json:"notes"`
	EstimatedDepth string `json:"estimatedDepth"`
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req createTaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	taskID, err := h.newID()
	if err != nil {
		h.writeError(w, r, fmt.Errorf("generate task id: %w", err))
		return
	}
	task, err := action.NewTask(taskID, action.NewTaskInput{
		UserID:         userID,
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Notes:          req.Notes,
		EstimatedDepth: req.EstimatedDepth,
	}, h.clock())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.actions.CreateTask(ctx, task); err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, task)
}

type updateTaskRequest struct {
	Title          *string `json:"title"`
	Notes          *string `json:"notes"`
	EstimatedDepth *string `json:"estimatedDepth"`
	Status         *string `json:"status"`
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	taskID := strings.TrimSpace(r.PathValue("taskId"))
	if taskID == "" {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidArgument, "task id is required"))
		return
	}
	var req updateTaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	update := action.TaskUpdate{
		Title:          req.Title,
		Notes:          req.Notes,
		EstimatedDepth: req.EstimatedDepth,
		Status:         req.Status,
	}
	now := h.clock()
	change, err := h.actions.UpdateTask(ctx, userID, taskID, func(current action.Task) (action.Task, error) {
		return action.ApplyUpdate(current, update, now)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, change.After)
}

type createReflectionRequest struct {
	Text           string   `json:"text"`
	RelatedTaskIDs []string `json:"relatedTaskIds"`
	Tags           []string `json:"tags"`
}

func (h *handler) createReflection(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	userID, err := requireUser(ctx)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req createReflectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	reflectionID, err := h.newID()
	if err != nil {
		h.writeError(w, r, fmt.Errorf("generate reflection id: %w", err))
		return
	}
	reflection, err := action.NewReflection(reflectionID, action.NewReflectionInput{
		UserID:         userID,
		Text:           req.Text,
		RelatedTaskIDs: req.RelatedTaskIDs,
		Tags:           req.Tags,
	}, h.clock())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	created, err := h.actions.CreateReflection(ctx, reflection)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, created.Reflection)
}

// writeError logs unexpected failures before writing the public error.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestctx.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	httpx.WriteError(w, err)
}

func requireUser(ctx context.Context) (string, error) {
	userID, err := requestctx.RequireUserID(ctx)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnauthenticated, "authentication required", err)
	}
	return userID, nil
}
