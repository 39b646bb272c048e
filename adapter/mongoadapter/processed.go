package mongoadapter

// processedSet remembers which message ids the poller has delivered, bounded
// to the most recent max entries. The polling watermark deliberately overlaps
// previous passes, so this set is what keeps overlapped documents from being
// delivered twice.
type processedSet struct {
	max   int
	order []string
	seen  map[string]struct{}
}

func newProcessedSet(max int) *processedSet {
	if max <= 0 {
		max = 1
	}
	return &processedSet{max: max, seen: make(map[string]struct{}, max)}
}

// add records id, reporting whether it was new. At capacity the oldest
// recorded id is forgotten.
func (s *processedSet) add(id string) bool {
	if _, dup := s.seen[id]; dup {
		return false
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[:copy(s.order, s.order[1:])]
		delete(s.seen, oldest)
	}
	s.order = append(s.order, id)
	s.seen[id] = struct{}{}
	return true
}

func (s *processedSet) len() int { return len(s.order) }
