package scheduler

import "sort"

// Status returns a point-in-time snapshot of the trigger table. Read-only,
// non-blocking (beyond the table mutex), safe from any goroutine.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{
		Running: s.running,
		Entries: make([]EntryStatus, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		st.Entries = append(st.Entries, EntryStatus{
			ID:       e.id,
			Name:     e.name,
			NextFire: e.fireAt,
			Revision: e.rev,
		})
	}
	s.mu.Unlock()

	st.ActiveRoutine = s.lock.Owner()
	sort.Slice(st.Entries, func(i, j int) bool {
		if st.Entries[i].NextFire.Equal(st.Entries[j].NextFire) {
			return st.Entries[i].ID < st.Entries[j].ID
		}
		return st.Entries[i].NextFire.Before(st.Entries[j].NextFire)
	})
	return st
}
