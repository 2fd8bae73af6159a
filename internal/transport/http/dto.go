package http

import (
	"fmt"
	"time"

	"drivesched/backend/internal/domain"
	"drivesched/backend/internal/selection"
)

// Wire representation of a slot: calendar date plus clock times, both
// as strings ("2006-01-02" and zero-padded "15:04").
type slotDTO struct {
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	ResourceID string `json:"resource_id"`
	SubjectID  string `json:"subject_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type rangeDTO struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type occupiedDTO struct {
	rangeDTO
	ResourceID string `json:"resource_id"`
}

type slotInstanceDTO struct {
	rangeDTO
	ResourceID    string `json:"resource_id"`
	SubjectID     string `json:"subject_id,omitempty"`
	Kind          string `json:"kind"`
	IsConflicting bool   `json:"is_conflicting"`
}

type recurrenceDTO struct {
	Frequency  string     `json:"frequency,omitempty"`
	EndDate    string     `json:"end_date,omitempty"`
	DaysOfWeek []int      `json:"days_of_week,omitempty"`
	Entries    []rangeDTO `json:"entries,omitempty"`
}

type lessonDTO struct {
	ID          string    `json:"id"`
	ResourceID  string    `json:"resource_id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Kind        string    `json:"kind"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Conflicting bool      `json:"is_conflicting"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type cellDTO struct {
	ResourceID      string `json:"resource_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type expandRequest struct {
	Base       slotDTO       `json:"base"`
	Recurrence recurrenceDTO `json:"recurrence"`
}

type expandResponse struct {
	Ranges    []rangeDTO `json:"ranges"`
	Truncated bool       `json:"truncated"`
}

type planRequest struct {
	Base       slotDTO       `json:"base"`
	Recurrence recurrenceDTO `json:"recurrence"`
	Existing   []occupiedDTO `json:"existing,omitempty"`
	UseStore   bool          `json:"use_store,omitempty"`
}

type planResponse struct {
	Slots     []slotInstanceDTO `json:"slots"`
	Truncated bool              `json:"truncated"`
}

type commitRequest struct {
	Slots           []slotInstanceDTO `json:"slots"`
	SkipConflicting bool              `json:"skip_conflicting,omitempty"`
}

type commitResponse struct {
	Lessons []lessonDTO `json:"lessons"`
}

type beginSelectionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Started   bool   `json:"started"`
}

type extendSelectionResponse struct {
	Extended bool `json:"extended"`
}

type releaseSelectionResponse struct {
	Selected bool      `json:"selected"`
	Range    *rangeDTO `json:"range,omitempty"`
}

type listLessonsResponse struct {
	Lessons []lessonDTO `json:"lessons"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func parseBaseSlot(dto slotDTO) (domain.BaseSlot, error) {
	r, err := parseRange(rangeDTO{Date: dto.Date, StartTime: dto.StartTime, EndTime: dto.EndTime})
	if err != nil {
		return domain.BaseSlot{}, err
	}
	return domain.BaseSlot{
		Range:      r,
		ResourceID: dto.ResourceID,
		SubjectID:  dto.SubjectID,
		Kind:       domain.SlotKind(dto.Kind),
	}, nil
}

func parseRange(dto rangeDTO) (domain.TimeRange, error) {
	date, err := domain.ParseDate(dto.Date)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("date: %w", err)
	}
	start, err := domain.ParseClock(dto.StartTime)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := domain.ParseClock(dto.EndTime)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("end_time: %w", err)
	}
	return domain.TimeRange{Date: date, StartMinute: start, EndMinute: end}, nil
}

// parsePattern maps the wire recurrence onto the domain pattern.
// Malformed custom entries are dropped here the same way the expander
// drops entries that violate the range invariant; they degrade the
// pattern, they do not fail the request.
func parsePattern(dto recurrenceDTO) (domain.RecurrencePattern, error) {
	pattern := domain.RecurrencePattern{
		Frequency:  domain.Frequency(dto.Frequency),
		DaysOfWeek: dto.DaysOfWeek,
	}

	if dto.EndDate != "" {
		endDate, err := domain.ParseDate(dto.EndDate)
		if err != nil {
			return domain.RecurrencePattern{}, fmt.Errorf("end_date: %w", err)
		}
		pattern.EndDate = endDate
	}

	for _, e := range dto.Entries {
		r, err := parseRange(e)
		if err != nil {
			continue
		}
		pattern.Entries = append(pattern.Entries, domain.CustomEntry{
			Date:        r.Date,
			StartMinute: r.StartMinute,
			EndMinute:   r.EndMinute,
		})
	}
	return pattern, nil
}

func parseInstances(dtos []slotInstanceDTO) ([]domain.SlotInstance, error) {
	out := make([]domain.SlotInstance, 0, len(dtos))
	for i, dto := range dtos {
		r, err := parseRange(dto.rangeDTO)
		if err != nil {
			return nil, fmt.Errorf("slots[%d]: %w", i, err)
		}
		kind := domain.SlotKind(dto.Kind)
		if kind == "" {
			kind = domain.SlotKindLesson
		}
		out = append(out, domain.SlotInstance{
			Range:       r,
			ResourceID:  dto.ResourceID,
			SubjectID:   dto.SubjectID,
			Kind:        kind,
			Conflicting: dto.IsConflicting,
		})
	}
	return out, nil
}

func parseCell(dto cellDTO) (selection.Cell, error) {
	date, err := domain.ParseDate(dto.Date)
	if err != nil {
		return selection.Cell{}, fmt.Errorf("date: %w", err)
	}
	start, err := domain.ParseClock(dto.StartTime)
	if err != nil {
		return selection.Cell{}, fmt.Errorf("start_time: %w", err)
	}
	return selection.Cell{
		ResourceID:  dto.ResourceID,
		Date:        date,
		StartMinute: start,
		Minutes:     dto.DurationMinutes,
	}, nil
}

func toRangeDTO(r domain.TimeRange) rangeDTO {
	return rangeDTO{
		Date:      domain.FormatDate(r.Date),
		StartTime: domain.FormatClock(r.StartMinute),
		EndTime:   domain.FormatClock(r.EndMinute),
	}
}

func toOccupied(dtos []occupiedDTO) ([]domain.OccupiedInterval, error) {
	out := make([]domain.OccupiedInterval, 0, len(dtos))
	for i, dto := range dtos {
		r, err := parseRange(dto.rangeDTO)
		if err != nil {
			return nil, fmt.Errorf("existing[%d]: %w", i, err)
		}
		out = append(out, domain.OccupiedInterval{Range: r, ResourceID: dto.ResourceID})
	}
	return out, nil
}

func toSlotInstanceDTO(in domain.SlotInstance) slotInstanceDTO {
	return slotInstanceDTO{
		rangeDTO:      toRangeDTO(in.Range),
		ResourceID:    in.ResourceID,
		SubjectID:     in.SubjectID,
		Kind:          string(in.Kind),
		IsConflicting: in.Conflicting,
	}
}

func toLessonDTO(l domain.Lesson) lessonDTO {
	return lessonDTO{
		ID:          l.ID.String(),
		ResourceID:  l.ResourceID,
		SubjectID:   l.SubjectID,
		Kind:        string(l.Kind),
		Date:        domain.FormatDate(l.LessonDate),
		StartTime:   domain.FormatClock(l.StartMinute),
		EndTime:     domain.FormatClock(l.EndMinute),
		Conflicting: l.Conflicting,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}
