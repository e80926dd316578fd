package engine

// seenSet remembers processed raw packet ids. When it grows past its cap it
// keeps only the most recent half.
type seenSet struct {
	max   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(max int) *seenSet {
	return &seenSet{
		max: max,
		ids: make(map[string]struct{}, max),
	}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.max {
		keep := s.max / 2
		drop := s.order[:len(s.order)-keep]
		for _, old := range drop {
			delete(s.ids, old)
		}
		s.order = append([]string(nil), s.order[len(s.order)-keep:]...)
	}
	return true
}

func (s *seenSet) Len() int {
	return len(s.order)
}
