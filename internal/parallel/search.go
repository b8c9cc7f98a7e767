package parallel

// search finds the optimal batch over a conflict graph by branch and bound.
//
// Stage one finds the best reachable (size, hours) value. Stage two walks the
// tasks in ID order and keeps each one that can still be completed to a set
// of that value, which yields the lexicographically smallest optimal set.
// Both stages share one node budget; exceeding it aborts the search.
type search struct {
	cg     *conflictGraph
	limit  int
	budget int
	nodes  int

	order   []int // candidates by hours desc, then ID
	blocked []int // number of chosen tasks conflicting with each task

	bestSize  int
	bestHours float64
}

func newSearch(cg *conflictGraph, limit, budget int) *search {
	return &search{
		cg:      cg,
		limit:   limit,
		budget:  budget,
		order:   byHoursDesc(cg),
		blocked: make([]int, len(cg.tasks)),
	}
}

// run returns the chosen task indexes and whether the search completed
// within budget.
func (s *search) run() ([]int, bool) {
	if !s.maximize(0, 0, 0) {
		return nil, false
	}

	var chosen []int
	forced := make([]bool, len(s.cg.tasks))
	for c := 0; c < len(s.cg.tasks) && len(chosen) < s.bestSize; c++ {
		if s.conflictsWith(c, chosen) {
			continue
		}
		forced[c] = true
		found, ok := s.completes(append(chosen, c), forced, c)
		if !ok {
			return nil, false
		}
		if found {
			chosen = append(chosen, c)
		} else {
			forced[c] = false
		}
	}
	return chosen, true
}

func (s *search) tick() bool {
	s.nodes++
	return s.nodes <= s.budget
}

func (s *search) choose(i int) {
	for j, conflict := range s.cg.adj[i] {
		if conflict {
			s.blocked[j]++
		}
	}
	s.blocked[i]++
}

func (s *search) unchoose(i int) {
	for j, conflict := range s.cg.adj[i] {
		if conflict {
			s.blocked[j]--
		}
	}
	s.blocked[i]--
}

// bound returns the best size and hours any extension of the current set
// could reach using candidates from order[pos:].
func (s *search) bound(pos, size int, hours float64) (int, float64) {
	room := s.limit - size
	for _, i := range s.order[pos:] {
		if room == 0 {
			break
		}
		if s.blocked[i] == 0 {
			size++
			hours += s.cg.hours[i]
			room--
		}
	}
	return size, hours
}

func (s *search) better(size int, hours float64) bool {
	return size > s.bestSize || (size == s.bestSize && hours > s.bestHours+epsilon)
}

// maximize explores supersets of the current set drawn from order[pos:].
// It returns false when the budget runs out.
func (s *search) maximize(pos, size int, hours float64) bool {
	if !s.tick() {
		return false
	}
	if s.better(size, hours) {
		s.bestSize, s.bestHours = size, hours
	}
	if size == s.limit {
		return true
	}
	if ubSize, ubHours := s.bound(pos, size, hours); !s.better(ubSize, ubHours) {
		return true
	}
	for k := pos; k < len(s.order); k++ {
		i := s.order[k]
		if s.blocked[i] != 0 {
			continue
		}
		s.choose(i)
		ok := s.maximize(k+1, size+1, hours+s.cg.hours[i])
		s.unchoose(i)
		if !ok {
			return false
		}
	}
	return true
}

// completes reports whether prefix, whose largest ID index is last, extends
// to an optimal set using only tasks after last.
func (s *search) completes(prefix []int, forced []bool, last int) (found, ok bool) {
	var hours float64
	for _, i := range prefix {
		s.choose(i)
		hours += s.cg.hours[i]
	}
	defer func() {
		for _, i := range prefix {
			s.unchoose(i)
		}
	}()

	var candidates []int
	for _, i := range s.order {
		if i > last && !forced[i] {
			candidates = append(candidates, i)
		}
	}
	return s.extend(candidates, 0, len(prefix), hours)
}

func (s *search) extend(candidates []int, pos, size int, hours float64) (found, ok bool) {
	if !s.tick() {
		return false, false
	}
	if size == s.bestSize {
		return hours >= s.bestHours-epsilon, true
	}
	room := s.bestSize - size
	ubSize, ubHours := size, hours
	for _, i := range candidates[pos:] {
		if room == 0 {
			break
		}
		if s.blocked[i] == 0 {
			ubSize++
			ubHours += s.cg.hours[i]
			room--
		}
	}
	if ubSize < s.bestSize || ubHours < s.bestHours-epsilon {
		return false, true
	}
	for k := pos; k < len(candidates); k++ {
		i := candidates[k]
		if s.blocked[i] != 0 {
			continue
		}
		s.choose(i)
		found, ok := s.extend(candidates, k+1, size+1, hours+s.cg.hours[i])
		s.unchoose(i)
		if !ok || found {
			return found, ok
		}
	}
	return false, true
}

func (s *search) conflictsWith(i int, chosen []int) bool {
	for _, j := range chosen {
		if s.cg.adj[i][j] {
			return true
		}
	}
	return false
}
