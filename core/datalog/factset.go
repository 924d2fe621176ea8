package datalog

// =============================================================================
// FactSet - Indexed set of ground literals
// =============================================================================

// FactSet is a set of literals with a secondary index from signature to the
// members sharing it. Both views are updated together on every change.
// Iteration follows insertion order, so answers enumerate deterministically.
//
// A FactSet is not safe for concurrent use.
type FactSet struct {
	members *orderedSet
	index   map[string]*orderedSet
}

// NewFactSet creates an empty FactSet.
func NewFactSet() *FactSet {
	return &FactSet{
		members: newOrderedSet(),
		index:   make(map[string]*orderedSet),
	}
}

// Add inserts e. Returns true if e was not already present.
func (s *FactSet) Add(e *Expr) bool {
	if !s.members.add(e) {
		return false
	}
	bucket, ok := s.index[e.signature]
	if !ok {
		bucket = newOrderedSet()
		s.index[e.signature] = bucket
	}
	bucket.add(e)
	return true
}

// AddAll inserts every literal and returns the number that were new.
func (s *FactSet) AddAll(exprs []*Expr) int {
	added := 0
	for _, e := range exprs {
		if s.Add(e) {
			added++
		}
	}
	return added
}

// Contains reports whether an equal literal is a member.
func (s *FactSet) Contains(e *Expr) bool {
	return s.members.contains(e.key)
}

// BySignature returns the members with the given signature in insertion
// order. The slice is shared and must not be modified; it stays valid while
// the set grows but not across removals.
func (s *FactSet) BySignature(signature string) []*Expr {
	bucket, ok := s.index[signature]
	if !ok {
		return nil
	}
	return bucket.items
}

// CountSignature returns the number of members with the given signature.
func (s *FactSet) CountSignature(signature string) int {
	if bucket, ok := s.index[signature]; ok {
		return len(bucket.items)
	}
	return 0
}

// Remove deletes e. Returns true if it was present.
func (s *FactSet) Remove(e *Expr) bool {
	return s.RemoveAll([]*Expr{e}) == 1
}

// RemoveAll deletes every listed literal from the member set and from each
// affected signature bucket, pruning buckets that become empty. Returns the
// number of literals removed.
func (s *FactSet) RemoveAll(exprs []*Expr) int {
	doomed := make(map[string]struct{}, len(exprs))
	touched := make(map[string]struct{})
	for _, e := range exprs {
		if !s.members.contains(e.key) {
			continue
		}
		doomed[e.key] = struct{}{}
		touched[e.signature] = struct{}{}
	}
	if len(doomed) == 0 {
		return 0
	}
	s.members.removeKeys(doomed)
	for sig := range touched {
		bucket := s.index[sig]
		bucket.removeKeys(doomed)
		if len(bucket.items) == 0 {
			delete(s.index, sig)
		}
	}
	return len(doomed)
}

// Len returns the number of members.
func (s *FactSet) Len() int {
	return len(s.members.items)
}

// All returns every member in insertion order. The slice is shared.
func (s *FactSet) All() []*Expr {
	return s.members.items
}

// Signatures returns the signatures present, in order of first insertion.
func (s *FactSet) Signatures() []string {
	out := make([]string, 0, len(s.index))
	seen := make(map[string]struct{}, len(s.index))
	for _, e := range s.members.items {
		if _, ok := seen[e.signature]; ok {
			continue
		}
		seen[e.signature] = struct{}{}
		out = append(out, e.signature)
	}
	return out
}

// Clone returns an independent copy. Literals are immutable and shared.
func (s *FactSet) Clone() *FactSet {
	clone := &FactSet{
		members: s.members.clone(),
		index:   make(map[string]*orderedSet, len(s.index)),
	}
	for sig, bucket := range s.index {
		clone.index[sig] = bucket.clone()
	}
	return clone
}

// MergeFrom adds every member of other and returns the number that were new.
func (s *FactSet) MergeFrom(other *FactSet) int {
	if other == nil {
		return 0
	}
	return s.AddAll(other.members.items)
}

// =============================================================================
// orderedSet
// =============================================================================

type orderedSet struct {
	items []*Expr
	pos   map[string]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{pos: make(map[string]int)}
}

func (o *orderedSet) add(e *Expr) bool {
	if _, ok := o.pos[e.key]; ok {
		return false
	}
	o.pos[e.key] = len(o.items)
	o.items = append(o.items, e)
	return true
}

func (o *orderedSet) contains(key string) bool {
	_, ok := o.pos[key]
	return ok
}

// removeKeys compacts items into a fresh slice so slices handed out earlier
// are never rewritten underneath a caller.
func (o *orderedSet) removeKeys(keys map[string]struct{}) {
	kept := make([]*Expr, 0, len(o.items))
	for _, e := range o.items {
		if _, gone := keys[e.key]; gone {
			delete(o.pos, e.key)
			continue
		}
		o.pos[e.key] = len(kept)
		kept = append(kept, e)
	}
	o.items = kept
}

func (o *orderedSet) clone() *orderedSet {
	c := &orderedSet{
		items: append([]*Expr(nil), o.items...),
		pos:   make(map[string]int, len(o.pos)),
	}
	for k, v := range o.pos {
		c.pos[k] = v
	}
	return c
}
