package scheduler

import "sort"

// Conflict details an existing booking that blocks a candidate interval.
type Conflict struct {
	MeetingID string
	RoomID    string
	Interval  TimeInterval
	Status    Status
}

// DetectConflicts returns the meetings in roomID that block candidate, ordered
// by start then id. Cancelled meetings and excludeID never conflict.
func DetectConflicts(existing []*Meeting, roomID string, candidate TimeInterval, excludeID string) []Conflict {
	var conflicts []Conflict
	for _, m := range existing {
		if m == nil || m.RoomID() != roomID {
			continue
		}
		if excludeID != "" && m.ID() == excludeID {
			continue
		}
		if !m.OverlapsWith(candidate) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			MeetingID: m.ID(),
			RoomID:    m.RoomID(),
			Interval:  m.Interval(),
			Status:    m.Status(),
		})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		a, b := conflicts[i].Interval.Start(), conflicts[j].Interval.Start()
		if a.Equal(b) {
			return conflicts[i].MeetingID < conflicts[j].MeetingID
		}
		return a.Before(b)
	})
	return conflicts
}

func conflictIDs(conflicts []Conflict) []string {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.MeetingID)
	}
	return ids
}
