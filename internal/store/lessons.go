package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"drivesched/backend/internal/domain"
)

// LessonRepository is the persistence collaborator around the planning
// engine: it supplies occupancy snapshots and commits planned slot
// instances. Double-booking protection at commit time lives here, not
// in the engine, which only validates against the snapshot it is given.
type LessonRepository interface {
	FetchOccupiedIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]domain.OccupiedInterval, error)
	CommitSlotInstances(ctx context.Context, instances []domain.SlotInstance, idempotencyKey string) ([]domain.Lesson, error)
	ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error)
	DeleteLesson(ctx context.Context, resourceID string, lessonID uuid.UUID) error
}

// LessonTx is the slice of repository behavior available inside a
// commit transaction.
type LessonTx interface {
	InsertLesson(ctx context.Context, lesson domain.Lesson) (domain.Lesson, error)
	ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error)
}
