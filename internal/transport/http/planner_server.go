// Package http exposes the planning engine over a JSON HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/selection"
	"drivesched/backend/internal/service/planner"
	"drivesched/backend/internal/store"
)

type PlannerServer struct {
	svc plannerService
	log *slog.Logger
	mux *http.ServeMux
}

type plannerService interface {
	ExpandRecurrence(ctx context.Context, in planner.ExpandInput) ([]domain.TimeRange, bool, error)
	PlanSlots(ctx context.Context, in planner.PlanInput) ([]domain.SlotInstance, bool, error)
	CommitSlots(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error)
	BeginSelection(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error)
	ExtendSelection(sessionID uuid.UUID, cell selection.Cell) (bool, error)
	ReleaseSelection(sessionID uuid.UUID) (domain.TimeRange, bool, error)
	AbortSelection(sessionID uuid.UUID) error
	ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error)
	DeleteLesson(ctx context.Context, resourceID string, lessonID uuid.UUID) error
}

func NewPlannerServer(svc plannerService, log *slog.Logger) *PlannerServer {
	if log == nil {
		log = slog.Default()
	}
	s := &PlannerServer{
		svc: svc,
		log: log.With(slog.String("component", "http.planner")),
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/recurrence/expand", s.handleExpandRecurrence)
	s.mux.HandleFunc("POST /v1/slots/plan", s.handlePlanSlots)
	s.mux.HandleFunc("POST /v1/slots/commit", s.handleCommitSlots)
	s.mux.HandleFunc("POST /v1/selection/begin", s.handleBeginSelection)
	s.mux.HandleFunc("POST /v1/selection/{id}/extend", s.handleExtendSelection)
	s.mux.HandleFunc("POST /v1/selection/{id}/release", s.handleReleaseSelection)
	s.mux.HandleFunc("POST /v1/selection/{id}/abort", s.handleAbortSelection)
	s.mux.HandleFunc("GET /v1/lessons", s.handleListLessons)
	s.mux.HandleFunc("DELETE /v1/lessons/{id}", s.handleDeleteLesson)

	return s
}

func (s *PlannerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *PlannerServer) handleExpandRecurrence(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "ExpandRecurrence"))

	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	base, err := parseBaseSlot(req.Base)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.Base.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pattern, err := parsePattern(req.Recurrence)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.Base.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ranges, truncated, err := s.svc.ExpandRecurrence(r.Context(), planner.ExpandInput{Base: base, Pattern: pattern})
	if err != nil {
		s.writeServiceError(w, log, err, "recurrence expand failed", base.ResourceID)
		return
	}

	out := make([]rangeDTO, 0, len(ranges))
	for _, rg := range ranges {
		out = append(out, toRangeDTO(rg))
	}

	log.Debug(
		"recurrence expanded",
		slog.String("resource_id", base.ResourceID),
		slog.Int("count", len(out)),
		slog.Bool("truncated", truncated),
	)

	writeJSON(w, http.StatusOK, expandResponse{Ranges: out, Truncated: truncated})
}

func (s *PlannerServer) handlePlanSlots(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "PlanSlots"))

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	base, err := parseBaseSlot(req.Base)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.Base.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pattern, err := parsePattern(req.Recurrence)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.Base.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	existing, err := toOccupied(req.Existing)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.Base.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	instances, truncated, err := s.svc.PlanSlots(r.Context(), planner.PlanInput{
		Base:      base,
		Pattern:   pattern,
		Existing:  existing,
		FromStore: req.UseStore,
	})
	if err != nil {
		s.writeServiceError(w, log, err, "slot plan failed", base.ResourceID)
		return
	}

	out := make([]slotInstanceDTO, 0, len(instances))
	conflicts := 0
	for _, in := range instances {
		if in.Conflicting {
			conflicts++
		}
		out = append(out, toSlotInstanceDTO(in))
	}

	log.Info(
		"slots planned",
		slog.String("resource_id", base.ResourceID),
		slog.Int("count", len(out)),
		slog.Int("conflicts", conflicts),
		slog.Bool("truncated", truncated),
	)

	writeJSON(w, http.StatusOK, planResponse{Slots: out, Truncated: truncated})
}

func (s *PlannerServer) handleCommitSlots(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "CommitSlots"))

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	instances, err := parseInstances(req.Slots)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lessons, err := s.svc.CommitSlots(r.Context(), instances, req.SkipConflicting, idempotencyKey(r))
	if err != nil {
		s.writeServiceError(w, log, err, "slot commit failed", "")
		return
	}

	out := make([]lessonDTO, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, toLessonDTO(l))
	}

	log.Info("slots committed", slog.Int("count", len(out)))
	writeJSON(w, http.StatusCreated, commitResponse{Lessons: out})
}

func (s *PlannerServer) handleBeginSelection(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "BeginSelection"))

	var req cellDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	cell, err := parseCell(req)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("resource_id", req.ResourceID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, started, err := s.svc.BeginSelection(r.Context(), cell)
	if err != nil {
		s.writeServiceError(w, log, err, "selection begin failed", req.ResourceID)
		return
	}
	if !started {
		log.Debug("selection not started", slog.String("resource_id", req.ResourceID), slog.String("date", req.Date))
		writeJSON(w, http.StatusOK, beginSelectionResponse{Started: false})
		return
	}

	log.Debug("selection started", slog.String("session_id", id.String()), slog.String("resource_id", req.ResourceID))
	writeJSON(w, http.StatusOK, beginSelectionResponse{SessionID: id.String(), Started: true})
}

func (s *PlannerServer) handleExtendSelection(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "ExtendSelection"))

	id, ok := s.sessionID(w, r, log)
	if !ok {
		return
	}

	var req cellDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	cell, err := parseCell(req)
	if err != nil {
		log.Warn("invalid request", slog.Any("err", err), slog.String("session_id", id.String()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	extended, err := s.svc.ExtendSelection(id, cell)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("selection not found", slog.String("session_id", id.String()))
			writeError(w, http.StatusNotFound, "selection session not found")
			return
		}
		s.writeServiceError(w, log, err, "selection extend failed", req.ResourceID)
		return
	}

	writeJSON(w, http.StatusOK, extendSelectionResponse{Extended: extended})
}

func (s *PlannerServer) handleReleaseSelection(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "ReleaseSelection"))

	id, ok := s.sessionID(w, r, log)
	if !ok {
		return
	}

	selected, ok, err := s.svc.ReleaseSelection(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("selection not found", slog.String("session_id", id.String()))
			writeError(w, http.StatusNotFound, "selection session not found")
			return
		}
		s.writeServiceError(w, log, err, "selection release failed", "")
		return
	}
	if !ok {
		log.Debug("selection released empty", slog.String("session_id", id.String()))
		writeJSON(w, http.StatusOK, releaseSelectionResponse{Selected: false})
		return
	}

	dto := toRangeDTO(selected)
	log.Debug(
		"selection released",
		slog.String("session_id", id.String()),
		slog.String("date", dto.Date),
		slog.String("start_time", dto.StartTime),
		slog.String("end_time", dto.EndTime),
	)
	writeJSON(w, http.StatusOK, releaseSelectionResponse{Selected: true, Range: &dto})
}

func (s *PlannerServer) handleAbortSelection(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "AbortSelection"))

	id, ok := s.sessionID(w, r, log)
	if !ok {
		return
	}

	if err := s.svc.AbortSelection(id); err != nil {
		s.writeServiceError(w, log, err, "selection abort failed", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *PlannerServer) handleListLessons(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "ListLessons"))

	q := r.URL.Query()
	resourceID := q.Get("resource_id")
	from, err := domain.ParseDate(q.Get("from"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_from"), slog.String("resource_id", resourceID))
		writeError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := domain.ParseDate(q.Get("to"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_to"), slog.String("resource_id", resourceID))
		writeError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}

	lessons, err := s.svc.ListLessons(r.Context(), resourceID, from, to)
	if err != nil {
		s.writeServiceError(w, log, err, "lessons list failed", resourceID)
		return
	}

	out := make([]lessonDTO, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, toLessonDTO(l))
	}

	log.Debug("lessons listed", slog.String("resource_id", resourceID), slog.Int("count", len(out)))
	writeJSON(w, http.StatusOK, listLessonsResponse{Lessons: out})
}

func (s *PlannerServer) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("handler", "DeleteLesson"))

	resourceID := r.URL.Query().Get("resource_id")
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("resource_id", resourceID))
		writeError(w, http.StatusBadRequest, "lesson id must be a UUID")
		return
	}

	if err := s.svc.DeleteLesson(r.Context(), resourceID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("lesson not found", slog.String("lesson_id", id.String()), slog.String("resource_id", resourceID))
			writeError(w, http.StatusNotFound, "lesson not found")
			return
		}
		s.writeServiceError(w, log, err, "lesson delete failed", resourceID)
		return
	}

	log.Info("lesson deleted", slog.String("lesson_id", id.String()), slog.String("resource_id", resourceID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *PlannerServer) sessionID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		writeError(w, http.StatusBadRequest, "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *PlannerServer) writeServiceError(w http.ResponseWriter, log *slog.Logger, err error, msg, resourceID string) {
	attrs := []any{slog.Any("err", err)}
	if resourceID != "" {
		attrs = append(attrs, slog.String("resource_id", resourceID))
	}

	if errors.Is(err, store.ErrConflict) {
		log.Info(msg, attrs...)
		writeError(w, http.StatusConflict, "That time is already booked for this resource. Pick a different slot or commit with the conflict override.")
		return
	}
	if errors.Is(err, store.ErrIdempotencyConflict) {
		log.Info(msg, attrs...)
		writeError(w, http.StatusConflict, "This request key was already used for a different booking. Try again.")
		return
	}
	var vErr *planner.ValidationError
	if errors.As(err, &vErr) {
		log.Warn(msg, attrs...)
		writeError(w, http.StatusBadRequest, vErr.Error())
		return
	}
	log.Error(msg, attrs...)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func idempotencyKey(r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = r.Header.Get("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
