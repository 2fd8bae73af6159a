// Package selection models the drag-select gesture that turns a run of
// fine-grained time cells into one validated time range. The state
// machine carries no rendering concern; any host drives it through
// Begin, Extend, Release and Abort.
package selection

import (
	"time"

	"drivesched/backend/internal/domain"
)

// DefaultCellMinutes is the selection grain of the scheduling grid.
const DefaultCellMinutes = 15

type State int

const (
	StateIdle State = iota
	StateExtending
	StateClosed
)

// Cell is one touched grid cell. A zero Minutes falls back to
// DefaultCellMinutes.
type Cell struct {
	ResourceID  string
	Date        time.Time
	StartMinute int
	Minutes     int
}

func (c Cell) toRange() (domain.TimeRange, bool) {
	minutes := c.Minutes
	if minutes == 0 {
		minutes = DefaultCellMinutes
	}
	if minutes < 0 || c.ResourceID == "" {
		return domain.TimeRange{}, false
	}
	r, err := domain.NewTimeRange(c.Date, c.StartMinute, c.StartMinute+minutes)
	if err != nil {
		return domain.TimeRange{}, false
	}
	return r, true
}

// Session accumulates one gesture against a fixed occupancy snapshot.
// It is bound to a single resource and date by the first accepted cell
// and is not safe for concurrent use; one gesture owns one session.
type Session struct {
	state       State
	resourceID  string
	date        time.Time
	startMinute int
	endMinute   int
	existing    []domain.OccupiedInterval
}

func NewSession(existing []domain.OccupiedInterval) *Session {
	return &Session{state: StateIdle, existing: existing}
}

func (s *Session) State() State {
	return s.state
}

// Begin opens the session on the first touched cell. An occupied or
// malformed starting cell keeps the session Idle and the gesture is
// ignored: a selection can never start on top of a commitment.
func (s *Session) Begin(cell Cell) bool {
	if s.state != StateIdle {
		return false
	}
	r, ok := cell.toRange()
	if !ok {
		return false
	}
	if domain.IsOccupied(r, cell.ResourceID, s.existing) {
		return false
	}

	s.resourceID = cell.ResourceID
	s.date = r.Date
	s.startMinute = r.StartMinute
	s.endMinute = r.EndMinute
	s.state = StateExtending
	return true
}

// Extend grows the accumulated run with another cell. Cells on a
// different resource or date, occupied cells and malformed cells are
// ignored; the run never shrinks and never jumps resource. Touch order
// does not matter, only the min/max bounds.
func (s *Session) Extend(cell Cell) bool {
	if s.state != StateExtending {
		return false
	}
	r, ok := cell.toRange()
	if !ok {
		return false
	}
	if cell.ResourceID != s.resourceID || !r.Date.Equal(s.date) {
		return false
	}
	if domain.IsOccupied(r, cell.ResourceID, s.existing) {
		return false
	}

	if r.StartMinute < s.startMinute {
		s.startMinute = r.StartMinute
	}
	if r.EndMinute > s.endMinute {
		s.endMinute = r.EndMinute
	}
	return true
}

// Release closes the session and yields the accumulated range, or
// nothing when the gesture never accepted a cell.
func (s *Session) Release() (domain.TimeRange, bool) {
	wasExtending := s.state == StateExtending
	s.state = StateClosed
	if !wasExtending {
		return domain.TimeRange{}, false
	}

	r, err := domain.NewTimeRange(s.date, s.startMinute, s.endMinute)
	if err != nil {
		return domain.TimeRange{}, false
	}
	return r, true
}

// Abort discards the gesture. Aborting an already closed session is a
// no-op.
func (s *Session) Abort() {
	s.state = StateClosed
}
