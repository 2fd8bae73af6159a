package domain

// IsOccupied reports whether the candidate range overlaps any existing
// committed interval for the same resource on the same date. Adjacent
// ranges (end equals start) never conflict, so back-to-back bookings
// stay possible.
//
// The existing snapshot is trusted as-is; keeping it fresh is the
// caller's concern.
func IsOccupied(candidate TimeRange, resourceID string, existing []OccupiedInterval) bool {
	for _, e := range existing {
		if e.ResourceID != resourceID {
			continue
		}
		if Overlaps(candidate, e.Range) {
			return true
		}
	}
	return false
}
