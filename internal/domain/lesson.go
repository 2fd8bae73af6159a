package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Lesson is a committed slot instance as persisted by the store. A row
// with Conflicting set was knowingly committed over an overlap after a
// human override.
type Lesson struct {
	bun.BaseModel `bun:"table:lessons"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	ResourceID  string    `bun:"resource_id,notnull"`
	SubjectID   string    `bun:"subject_id,notnull"`
	Kind        SlotKind  `bun:"kind,notnull"`
	LessonDate  time.Time `bun:"lesson_date,notnull"`
	StartMinute int       `bun:"start_minute,notnull"`
	EndMinute   int       `bun:"end_minute,notnull"`
	Conflicting bool      `bun:"conflicting,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func (l *Lesson) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if l.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			l.ID = id
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		l.UpdatedAt = now
	}
	return nil
}

func (l *Lesson) Range() TimeRange {
	return TimeRange{
		Date:        DateOf(l.LessonDate),
		StartMinute: l.StartMinute,
		EndMinute:   l.EndMinute,
	}
}

func (l *Lesson) Occupied() OccupiedInterval {
	return OccupiedInterval{Range: l.Range(), ResourceID: l.ResourceID}
}
