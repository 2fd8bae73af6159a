package domain

type SlotKind string

const (
	SlotKindLesson         SlotKind = "lesson"
	SlotKindUnavailability SlotKind = "unavailability"
	SlotKindExam           SlotKind = "exam"
)

func (k SlotKind) Valid() bool {
	switch k {
	case SlotKindLesson, SlotKindUnavailability, SlotKindExam:
		return true
	}
	return false
}

// BaseSlot seeds a possibly recurring booking for one instructor and
// one student. Recurrence expansion changes the date only, never the
// time of day.
type BaseSlot struct {
	Range      TimeRange
	ResourceID string
	SubjectID  string
	Kind       SlotKind
}

// SlotInstance is one concrete dated occurrence produced by planning.
// Conflicting is advisory: the caller decides whether to persist a
// flagged instance anyway.
type SlotInstance struct {
	Range       TimeRange
	ResourceID  string
	SubjectID   string
	Kind        SlotKind
	Conflicting bool
}

// OccupiedInterval is a committed slot supplied by the store as a
// read-only snapshot. The engine never mutates these.
type OccupiedInterval struct {
	Range      TimeRange
	ResourceID string
}
