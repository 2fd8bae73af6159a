package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/store"
)

type LessonRepo struct {
	db *bun.DB
}

func NewLessonRepo(db *bun.DB) *LessonRepo {
	return &LessonRepo{db: db}
}

type lessonTx struct {
	tx bun.Tx
}

func (r *LessonRepo) FetchOccupiedIntervals(ctx context.Context, resourceID string, from, to time.Time) ([]domain.OccupiedInterval, error) {
	lessons, err := r.ListLessons(ctx, resourceID, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OccupiedInterval, 0, len(lessons))
	for i := range lessons {
		out = append(out, lessons[i].Occupied())
	}
	return out, nil
}

func (r *LessonRepo) ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error) {
	var rows []domain.Lesson
	err := r.db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("lesson_date >= ?", domain.DateOf(from)).
		Where("lesson_date <= ?", domain.DateOf(to)).
		OrderExpr("lesson_date ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *LessonRepo) DeleteLesson(ctx context.Context, resourceID string, lessonID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Lesson)(nil)).
		Where("resource_id = ?", resourceID).
		Where("id = ?", lessonID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CommitSlotInstances persists a planned batch inside one transaction,
// serialized per resource through an advisory lock. Instances not
// flagged as conflicting are re-checked against the committed rows
// inside the transaction, closing the gap between the planner's
// snapshot and commit time. A non-empty idempotency key makes lesson
// IDs deterministic so a retried commit does not duplicate rows.
func (r *LessonRepo) CommitSlotInstances(ctx context.Context, instances []domain.SlotInstance, idempotencyKey string) ([]domain.Lesson, error) {
	if len(instances) == 0 {
		return nil, nil
	}

	var out []domain.Lesson
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, resourceID := range distinctResources(instances) {
			if err := lockResourceDiary(ctx, tx, resourceID); err != nil {
				return err
			}
		}

		ltx := lessonTx{tx: tx}
		if err := ensureNoCommitConflicts(ctx, ltx, instances); err != nil {
			return err
		}

		out = make([]domain.Lesson, 0, len(instances))
		for _, in := range instances {
			lesson, err := ltx.InsertLesson(ctx, lessonFromInstance(in, idempotencyKey))
			if err != nil {
				return err
			}
			out = append(out, lesson)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockResourceDiary(ctx context.Context, tx bun.Tx, resourceID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", resourceID).Exec(ctx)
	return err
}

func distinctResources(instances []domain.SlotInstance) []string {
	seen := make(map[string]struct{}, len(instances))
	out := make([]string, 0, 1)
	for _, in := range instances {
		if _, ok := seen[in.ResourceID]; ok {
			continue
		}
		seen[in.ResourceID] = struct{}{}
		out = append(out, in.ResourceID)
	}
	// Locks are taken in a stable order to avoid deadlocks between
	// concurrent multi-resource commits.
	sort.Strings(out)
	return out
}

func lessonFromInstance(in domain.SlotInstance, idempotencyKey string) domain.Lesson {
	lesson := domain.Lesson{
		ResourceID:  in.ResourceID,
		SubjectID:   in.SubjectID,
		Kind:        in.Kind,
		LessonDate:  in.Range.Date,
		StartMinute: in.Range.StartMinute,
		EndMinute:   in.Range.EndMinute,
		Conflicting: in.Conflicting,
	}
	if idempotencyKey != "" {
		name := "drivesched:commit_slot:" + idempotencyKey +
			":" + in.ResourceID +
			":" + domain.FormatDate(in.Range.Date) +
			":" + domain.FormatClock(in.Range.StartMinute) +
			"-" + domain.FormatClock(in.Range.EndMinute)
		lesson.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	}
	return lesson
}

func (r lessonTx) InsertLesson(ctx context.Context, lesson domain.Lesson) (domain.Lesson, error) {
	m := lesson
	_, err := r.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "lessons_no_overlap" {
				return domain.Lesson{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				var existing domain.Lesson
				selectErr := r.tx.NewSelect().
					Model(&existing).
					Where("id = ?", m.ID).
					Limit(1).
					Scan(ctx)
				if selectErr != nil {
					return domain.Lesson{}, err
				}

				if existing.ResourceID != lesson.ResourceID ||
					existing.SubjectID != lesson.SubjectID ||
					existing.Kind != lesson.Kind ||
					!domain.DateOf(existing.LessonDate).Equal(lesson.LessonDate) ||
					existing.StartMinute != lesson.StartMinute ||
					existing.EndMinute != lesson.EndMinute {
					return domain.Lesson{}, store.ErrIdempotencyConflict
				}

				return existing, nil
			}
		}
		return domain.Lesson{}, err
	}
	return m, nil
}

func (r lessonTx) ListLessons(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Lesson, error) {
	var rows []domain.Lesson
	err := r.tx.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("lesson_date >= ?", domain.DateOf(from)).
		Where("lesson_date <= ?", domain.DateOf(to)).
		OrderExpr("lesson_date ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ensureNoCommitConflicts rejects a batch whose unflagged instances
// overlap committed lessons or each other. Instances flagged as
// conflicting were accepted by the caller with the conflict in view
// and bypass the check.
func ensureNoCommitConflicts(ctx context.Context, tx store.LessonTx, instances []domain.SlotInstance) error {
	unflagged := make([]domain.SlotInstance, 0, len(instances))
	for _, in := range instances {
		if !in.Conflicting {
			unflagged = append(unflagged, in)
		}
	}
	if len(unflagged) == 0 {
		return nil
	}

	for i := 1; i < len(unflagged); i++ {
		for j := 0; j < i; j++ {
			if unflagged[i].ResourceID == unflagged[j].ResourceID &&
				domain.Overlaps(unflagged[i].Range, unflagged[j].Range) {
				return store.ErrConflict
			}
		}
	}

	type window struct {
		from, to time.Time
	}
	windows := make(map[string]window)
	for _, in := range unflagged {
		w, ok := windows[in.ResourceID]
		if !ok {
			windows[in.ResourceID] = window{from: in.Range.Date, to: in.Range.Date}
			continue
		}
		if in.Range.Date.Before(w.from) {
			w.from = in.Range.Date
		}
		if in.Range.Date.After(w.to) {
			w.to = in.Range.Date
		}
		windows[in.ResourceID] = w
	}

	for resourceID, w := range windows {
		lessons, err := tx.ListLessons(ctx, resourceID, w.from, w.to)
		if err != nil {
			return err
		}
		existing := make([]domain.OccupiedInterval, 0, len(lessons))
		for i := range lessons {
			existing = append(existing, lessons[i].Occupied())
		}
		for _, in := range unflagged {
			if in.ResourceID != resourceID {
				continue
			}
			if domain.IsOccupied(in.Range, resourceID, existing) {
				return store.ErrConflict
			}
		}
	}

	return nil
}
