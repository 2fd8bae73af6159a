package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/selection"
	"drivesched/backend/internal/service/planner"
	"drivesched/backend/internal/store"
)

type fakePlannerService struct {
	expandRecurrenceFn func(ctx context.Context, in planner.ExpandInput) ([]domain.TimeRange, bool, error)
	planSlotsFn        func(ctx context.Context, in planner.PlanInput) ([]domain.SlotInstance, bool, error)
	commitSlotsFn      func(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error)
	beginSelectionFn   func(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error)
	extendSelectionFn  func(sessionID uuid.UUID, cell selection.Cell) (bool, error)
	releaseSelectionFn func(sessionID uuid.UUID) (domain.TimeRange, bool, error)
	abortSelectionFn   func(sessionID uuid.UUID) error
	listLessonsFn      func(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error)
	deleteLessonFn     func(ctx context.Context, resourceID string, lessonID uuid.UUID) error
}

func (f *fakePlannerService) ExpandRecurrence(ctx context.Context, in planner.ExpandInput) ([]domain.TimeRange, bool, error) {
	if f.expandRecurrenceFn == nil {
		panic("ExpandRecurrence not configured")
	}
	return f.expandRecurrenceFn(ctx, in)
}

func (f *fakePlannerService) PlanSlots(ctx context.Context, in planner.PlanInput) ([]domain.SlotInstance, bool, error) {
	if f.planSlotsFn == nil {
		panic("PlanSlots not configured")
	}
	return f.planSlotsFn(ctx, in)
}

func (f *fakePlannerService) CommitSlots(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error) {
	if f.commitSlotsFn == nil {
		panic("CommitSlots not configured")
	}
	return f.commitSlotsFn(ctx, instances, skipConflicting, idempotencyKey)
}

func (f *fakePlannerService) BeginSelection(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error) {
	if f.beginSelectionFn == nil {
		panic("BeginSelection not configured")
	}
	return f.beginSelectionFn(ctx, cell)
}

func (f *fakePlannerService) ExtendSelection(sessionID uuid.UUID, cell selection.Cell) (bool, error) {
	if f.extendSelectionFn == nil {
		panic("ExtendSelection not configured")
	}
	return f.extendSelectionFn(sessionID, cell)
}

func (f *fakePlannerService) ReleaseSelection(sessionID uuid.UUID) (domain.TimeRange, bool, error) {
	if f.releaseSelectionFn == nil {
		panic("ReleaseSelection not configured")
	}
	return f.releaseSelectionFn(sessionID)
}

func (f *fakePlannerService) AbortSelection(sessionID uuid.UUID) error {
	if f.abortSelectionFn == nil {
		panic("AbortSelection not configured")
	}
	return f.abortSelectionFn(sessionID)
}

func (f *fakePlannerService) ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error) {
	if f.listLessonsFn == nil {
		panic("ListLessons not configured")
	}
	return f.listLessonsFn(ctx, resourceID, from, to)
}

func (f *fakePlannerService) DeleteLesson(ctx context.Context, resourceID string, lessonID uuid.UUID) error {
	if f.deleteLessonFn == nil {
		panic("DeleteLesson not configured")
	}
	return f.deleteLessonFn(ctx, resourceID, lessonID)
}

func doJSON(t *testing.T, srv *PlannerServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestExpandRecurrence_WireFormat(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		expandRecurrenceFn: func(ctx context.Context, in planner.ExpandInput) ([]domain.TimeRange, bool, error) {
			if in.Base.ResourceID != "instructor-1" {
				t.Fatalf("resource_id = %q, want %q", in.Base.ResourceID, "instructor-1")
			}
			if in.Base.Range.StartMinute != 600 || in.Base.Range.EndMinute != 660 {
				t.Fatalf("base minutes = [%d, %d), want [600, 660)", in.Base.Range.StartMinute, in.Base.Range.EndMinute)
			}
			if in.Pattern.Frequency != domain.FrequencyWeekly {
				t.Fatalf("frequency = %q, want weekly", in.Pattern.Frequency)
			}
			return []domain.TimeRange{in.Base.Range}, true, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/recurrence/expand", `{
		"base": {"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"},
		"recurrence": {"frequency": "weekly", "end_date": "2025-03-17", "days_of_week": [1]}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp expandResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Truncated {
		t.Fatal("truncated = false, want true")
	}
	if len(resp.Ranges) != 1 {
		t.Fatalf("len(ranges) = %d, want 1", len(resp.Ranges))
	}
	want := rangeDTO{Date: "2025-03-03", StartTime: "10:00", EndTime: "11:00"}
	if resp.Ranges[0] != want {
		t.Fatalf("ranges[0] = %+v, want %+v", resp.Ranges[0], want)
	}
}

func TestExpandRecurrence_RejectsBadDate(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/recurrence/expand", `{
		"base": {"date": "03/03/2025", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"}
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandRecurrence_RejectsBadClock(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/recurrence/expand", `{
		"base": {"date": "2025-03-03", "start_time": "9:00", "end_time": "11:00", "resource_id": "instructor-1"}
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandRecurrence_DropsMalformedCustomEntries(t *testing.T) {
	var got planner.ExpandInput
	srv := NewPlannerServer(&fakePlannerService{
		expandRecurrenceFn: func(ctx context.Context, in planner.ExpandInput) ([]domain.TimeRange, bool, error) {
			got = in
			return []domain.TimeRange{in.Base.Range}, false, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/recurrence/expand", `{
		"base": {"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"},
		"recurrence": {"frequency": "custom", "entries": [
			{"date": "2025-03-05", "start_time": "10:00", "end_time": "11:00"},
			{"date": "not-a-date", "start_time": "10:00", "end_time": "11:00"}
		]}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(got.Pattern.Entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(got.Pattern.Entries))
	}
}

func TestPlanSlots_ReportsConflictFlags(t *testing.T) {
	date := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	srv := NewPlannerServer(&fakePlannerService{
		planSlotsFn: func(ctx context.Context, in planner.PlanInput) ([]domain.SlotInstance, bool, error) {
			if len(in.Existing) != 1 || in.Existing[0].ResourceID != "instructor-1" {
				t.Fatalf("existing = %+v, want one interval on instructor-1", in.Existing)
			}
			return []domain.SlotInstance{
				{
					Range:       domain.TimeRange{Date: date, StartMinute: 600, EndMinute: 660},
					ResourceID:  "instructor-1",
					Kind:        domain.SlotKindLesson,
					Conflicting: true,
				},
			}, false, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/slots/plan", `{
		"base": {"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"},
		"existing": [{"date": "2025-03-03", "start_time": "10:30", "end_time": "11:30", "resource_id": "instructor-1"}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp planResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Slots) != 1 || !resp.Slots[0].IsConflicting {
		t.Fatalf("slots = %+v, want one conflicting slot", resp.Slots)
	}
}

func TestPlanSlots_MapsValidationError(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		planSlotsFn: func(ctx context.Context, in planner.PlanInput) ([]domain.SlotInstance, bool, error) {
			return nil, false, &planner.ValidationError{}
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/slots/plan", `{
		"base": {"date": "2025-03-03", "start_time": "11:00", "end_time": "10:00", "resource_id": "instructor-1"}
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCommitSlots_PassesIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotSkip bool
	srv := NewPlannerServer(&fakePlannerService{
		commitSlotsFn: func(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error) {
			gotKey = idempotencyKey
			gotSkip = skipConflicting
			return []domain.Lesson{}, nil
		},
	}, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/v1/slots/commit", strings.NewReader(`{
		"slots": [{"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"}],
		"skip_conflicting": true
	}`))
	req.Header.Set("Idempotency-Key", "  k1  ")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if gotKey != "k1" {
		t.Fatalf("idempotency key = %q, want %q", gotKey, "k1")
	}
	if !gotSkip {
		t.Fatal("skip_conflicting = false, want true")
	}
}

func TestCommitSlots_MapsConflict(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		commitSlotsFn: func(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error) {
			return nil, store.ErrConflict
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/slots/commit", `{
		"slots": [{"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"}]
	}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCommitSlots_MapsIdempotencyConflict(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		commitSlotsFn: func(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error) {
			return nil, store.ErrIdempotencyConflict
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/slots/commit", `{
		"slots": [{"date": "2025-03-03", "start_time": "10:00", "end_time": "11:00", "resource_id": "instructor-1"}]
	}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestBeginSelection_NotStartedIsNotAnError(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		beginSelectionFn: func(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error) {
			return uuid.Nil, false, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/selection/begin", `{
		"resource_id": "instructor-1", "date": "2025-03-03", "start_time": "09:00", "duration_minutes": 15
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp beginSelectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Started || resp.SessionID != "" {
		t.Fatalf("response = %+v, want not started with no session id", resp)
	}
}

func TestSelection_RoundTrip(t *testing.T) {
	sessionID := uuid.MustParse("00000000-0000-0000-0000-000000000010")
	date := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

	srv := NewPlannerServer(&fakePlannerService{
		beginSelectionFn: func(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error) {
			return sessionID, true, nil
		},
		extendSelectionFn: func(id uuid.UUID, cell selection.Cell) (bool, error) {
			if id != sessionID {
				t.Fatalf("session id = %v, want %v", id, sessionID)
			}
			return true, nil
		},
		releaseSelectionFn: func(id uuid.UUID) (domain.TimeRange, bool, error) {
			return domain.TimeRange{Date: date, StartMinute: 540, EndMinute: 585}, true, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/selection/begin", `{
		"resource_id": "instructor-1", "date": "2025-03-03", "start_time": "09:00"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("begin status = %d; body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/selection/"+sessionID.String()+"/extend", `{
		"resource_id": "instructor-1", "date": "2025-03-03", "start_time": "09:30"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("extend status = %d; body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/selection/"+sessionID.String()+"/release", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d; body %s", rec.Code, rec.Body.String())
	}

	var resp releaseSelectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Selected || resp.Range == nil {
		t.Fatalf("response = %+v, want selected with range", resp)
	}
	want := rangeDTO{Date: "2025-03-03", StartTime: "09:00", EndTime: "09:45"}
	if *resp.Range != want {
		t.Fatalf("range = %+v, want %+v", *resp.Range, want)
	}
}

func TestExtendSelection_MapsUnknownSession(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		extendSelectionFn: func(id uuid.UUID, cell selection.Cell) (bool, error) {
			return false, store.ErrNotFound
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/selection/00000000-0000-0000-0000-000000000099/extend", `{
		"resource_id": "instructor-1", "date": "2025-03-03", "start_time": "09:30"
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestExtendSelection_RejectsInvalidSessionID(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/selection/not-a-uuid/extend", `{
		"resource_id": "instructor-1", "date": "2025-03-03", "start_time": "09:30"
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAbortSelection_NoContent(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		abortSelectionFn: func(id uuid.UUID) error { return nil },
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodPost, "/v1/selection/00000000-0000-0000-0000-000000000010/abort", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestListLessons_WireFormat(t *testing.T) {
	lessonID := uuid.MustParse("00000000-0000-0000-0000-000000000020")
	srv := NewPlannerServer(&fakePlannerService{
		listLessonsFn: func(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error) {
			if resourceID != "instructor-1" {
				t.Fatalf("resource_id = %q, want %q", resourceID, "instructor-1")
			}
			return []domain.Lesson{
				{
					ID:          lessonID,
					ResourceID:  resourceID,
					SubjectID:   "subject-b",
					Kind:        domain.SlotKindLesson,
					LessonDate:  time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC),
					StartMinute: 600,
					EndMinute:   660,
				},
			}, nil
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodGet, "/v1/lessons?resource_id=instructor-1&from=2025-03-01&to=2025-03-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp listLessonsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Lessons) != 1 {
		t.Fatalf("len(lessons) = %d, want 1", len(resp.Lessons))
	}
	got := resp.Lessons[0]
	if got.ID != lessonID.String() || got.Date != "2025-03-03" || got.StartTime != "10:00" || got.EndTime != "11:00" {
		t.Fatalf("lesson = %+v", got)
	}
}

func TestListLessons_RejectsBadWindow(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{}, slog.Default())

	rec := doJSON(t, srv, http.MethodGet, "/v1/lessons?resource_id=instructor-1&from=bad&to=2025-03-31", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeleteLesson_MapsNotFound(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{
		deleteLessonFn: func(ctx context.Context, resourceID string, lessonID uuid.UUID) error {
			return store.ErrNotFound
		},
	}, slog.Default())

	rec := doJSON(t, srv, http.MethodDelete, "/v1/lessons/00000000-0000-0000-0000-000000000020?resource_id=instructor-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestDeleteLesson_RejectsInvalidUUID(t *testing.T) {
	srv := NewPlannerServer(&fakePlannerService{}, slog.Default())

	rec := doJSON(t, srv, http.MethodDelete, "/v1/lessons/not-a-uuid?resource_id=instructor-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
