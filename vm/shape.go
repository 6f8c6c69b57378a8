package vm

// Shape describes which named slots an object has and where they live.
// Shapes only grow by appending, so an existing name keeps its index for
// the object's lifetime.
type Shape struct {
	fixed int
	names []string
	index map[string]int
}

// NewShape creates an empty shape with the given inline capacity.
func NewShape(fixed int) *Shape {
	return &Shape{fixed: fixed, index: make(map[string]int)}
}

// FixedSlots returns the inline slot count.
func (s *Shape) FixedSlots() int { return s.fixed }

// SlotCount returns the number of slots described by the shape.
func (s *Shape) SlotCount() int { return len(s.names) }

// Lookup returns the slot index for name.
func (s *Shape) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Name returns the name of slot i, or "" for reserved slots.
func (s *Shape) Name(i int) string {
	if i < 0 || i >= len(s.names) {
		return ""
	}
	return s.names[i]
}

// Names returns all slot names in index order.
func (s *Shape) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// appendSlot adds a slot and returns its index. Reserved slots pass "".
func (s *Shape) appendSlot(name string) int {
	i := len(s.names)
	s.names = append(s.names, name)
	if name != "" {
		s.index[name] = i
	}
	return i
}
