package planner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/selection"
	"drivesched/backend/internal/store"
)

// DefaultSessionTTL bounds how long an abandoned selection gesture is
// kept before it is pruned. A gesture normally lives for seconds.
const DefaultSessionTTL = 2 * time.Minute

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Service struct {
	repo store.LessonRepository

	mu         sync.Mutex
	sessions   map[uuid.UUID]*sessionEntry
	sessionTTL time.Duration
	now        func() time.Time
}

type sessionEntry struct {
	session *selection.Session
	touched time.Time
}

func NewService(repo store.LessonRepository) *Service {
	return &Service{
		repo:       repo,
		sessions:   make(map[uuid.UUID]*sessionEntry),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

type ExpandInput struct {
	Base    domain.BaseSlot
	Pattern domain.RecurrencePattern
}

// ExpandRecurrence expands a base slot through its pattern. The second
// result reports whether the expansion was cut short by an iteration
// cap before the pattern's end date.
func (s *Service) ExpandRecurrence(ctx context.Context, in ExpandInput) ([]domain.TimeRange, bool, error) {
	base, err := validateBase(in.Base)
	if err != nil {
		return nil, false, err
	}

	ranges, truncated := domain.Expand(base, in.Pattern)
	return ranges, truncated, nil
}

type PlanInput struct {
	Base    domain.BaseSlot
	Pattern domain.RecurrencePattern
	// Existing is the occupancy snapshot to plan against. When
	// FromStore is set it is ignored and a fresh snapshot covering the
	// expansion window is fetched from the repository instead.
	Existing  []domain.OccupiedInterval
	FromStore bool
}

// PlanSlots expands the base slot and flags every instance that
// overlaps the occupancy snapshot. Conflicting instances are returned
// alongside clean ones, never discarded; whether to commit them anyway
// is the caller's call. The only fatal condition is an invalid base
// slot.
func (s *Service) PlanSlots(ctx context.Context, in PlanInput) ([]domain.SlotInstance, bool, error) {
	base, err := validateBase(in.Base)
	if err != nil {
		return nil, false, err
	}

	ranges, truncated := domain.Expand(base, in.Pattern)

	existing := in.Existing
	if in.FromStore {
		from, to := datesSpan(ranges)
		existing, err = s.repo.FetchOccupiedIntervals(ctx, base.ResourceID, from, to)
		if err != nil {
			return nil, false, err
		}
	}

	instances := make([]domain.SlotInstance, 0, len(ranges))
	for _, r := range ranges {
		instances = append(instances, domain.SlotInstance{
			Range:       r,
			ResourceID:  base.ResourceID,
			SubjectID:   base.SubjectID,
			Kind:        base.Kind,
			Conflicting: domain.IsOccupied(r, base.ResourceID, existing),
		})
	}
	return instances, truncated, nil
}

// CommitSlots persists planned instances through the repository.
// With skipConflicting set, flagged instances are dropped from the
// batch instead of being committed as overrides.
func (s *Service) CommitSlots(ctx context.Context, instances []domain.SlotInstance, skipConflicting bool, idempotencyKey string) ([]domain.Lesson, error) {
	if len(instances) == 0 {
		return nil, validationError("at least one slot instance is required")
	}

	key := strings.TrimSpace(idempotencyKey)
	if len(key) > 256 {
		return nil, validationError("idempotency_key too long")
	}

	batch := make([]domain.SlotInstance, 0, len(instances))
	for _, in := range instances {
		if in.ResourceID == "" {
			return nil, validationError("resource_id is required")
		}
		if in.Range.StartMinute >= in.Range.EndMinute {
			return nil, validationError("start_time must be before end_time")
		}
		if !in.Kind.Valid() {
			return nil, validationError("unknown slot kind")
		}
		if skipConflicting && in.Conflicting {
			continue
		}
		batch = append(batch, in)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	return s.repo.CommitSlotInstances(ctx, batch, key)
}

func (s *Service) ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error) {
	if resourceID == "" {
		return nil, validationError("resource_id is required")
	}
	if domain.DateOf(to).Before(domain.DateOf(from)) {
		return nil, validationError("to must not be before from")
	}
	return s.repo.ListLessons(ctx, resourceID, from, to)
}

func (s *Service) DeleteLesson(ctx context.Context, resourceID string, lessonID uuid.UUID) error {
	if resourceID == "" {
		return validationError("resource_id is required")
	}
	if lessonID == uuid.Nil {
		return validationError("lesson_id is required")
	}
	return s.repo.DeleteLesson(ctx, resourceID, lessonID)
}

// BeginSelection opens a drag-selection gesture on its first cell,
// validated against a fresh occupancy snapshot for that resource and
// day. An occupied or malformed starting cell is ignored, not an
// error: the gesture simply does not start.
func (s *Service) BeginSelection(ctx context.Context, cell selection.Cell) (uuid.UUID, bool, error) {
	if cell.ResourceID == "" {
		return uuid.Nil, false, validationError("resource_id is required")
	}

	day := domain.DateOf(cell.Date)
	existing, err := s.repo.FetchOccupiedIntervals(ctx, cell.ResourceID, day, day)
	if err != nil {
		return uuid.Nil, false, err
	}

	session := selection.NewSession(existing)
	if !session.Begin(cell) {
		return uuid.Nil, false, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.sessions[id] = &sessionEntry{session: session, touched: s.now()}
	return id, true, nil
}

func (s *Service) ExtendSelection(sessionID uuid.UUID, cell selection.Cell) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return false, store.ErrNotFound
	}
	entry.touched = s.now()
	return entry.session.Extend(cell), nil
}

func (s *Service) ReleaseSelection(sessionID uuid.UUID) (domain.TimeRange, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return domain.TimeRange{}, false, store.ErrNotFound
	}
	delete(s.sessions, sessionID)

	r, selected := entry.session.Release()
	return r, selected, nil
}

// AbortSelection discards a gesture. Unknown session IDs are treated
// as already aborted, keeping the call idempotent.
func (s *Service) AbortSelection(sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	entry.session.Abort()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.sessionTTL)
	for id, entry := range s.sessions {
		if entry.touched.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func validateBase(base domain.BaseSlot) (domain.BaseSlot, error) {
	if base.ResourceID == "" {
		return domain.BaseSlot{}, validationError("resource_id is required")
	}

	r, err := domain.NewTimeRange(base.Range.Date, base.Range.StartMinute, base.Range.EndMinute)
	if err != nil {
		return domain.BaseSlot{}, validationError(err.Error())
	}
	base.Range = r

	if base.Kind == "" {
		base.Kind = domain.SlotKindLesson
	}
	if !base.Kind.Valid() {
		return domain.BaseSlot{}, validationError("unknown slot kind")
	}
	return base, nil
}

func datesSpan(ranges []domain.TimeRange) (time.Time, time.Time) {
	from, to := ranges[0].Date, ranges[0].Date
	for _, r := range ranges[1:] {
		if r.Date.Before(from) {
			from = r.Date
		}
		if r.Date.After(to) {
			to = r.Date
		}
	}
	return from, to
}
