package cache

// store owns the fingerprint to task mapping and the running total of
// resident bytes. It is a plain container: locking and accounting decisions
// live in the cache facade, which is the only mutator (alongside the
// sweeper, which runs under the same lock).
type store[K any, V any] struct {
	m     map[string]*task[K, V]
	bytes int64 // sum of byte estimates over resolved successful entries
}

func newStore[K any, V any]() *store[K, V] {
	return &store[K, V]{m: make(map[string]*task[K, V])}
}

// get returns the task for a fingerprint, if any.
func (s *store[K, V]) get(key string) (*task[K, V], bool) {
	t, ok := s.m[key]
	return t, ok
}

// has reports presence regardless of task status.
func (s *store[K, V]) has(key string) bool {
	_, ok := s.m[key]
	return ok
}

// put installs a task under its fingerprint and returns the displaced
// task, if any. The caller accounts for the displacement.
func (s *store[K, V]) put(t *task[K, V]) *task[K, V] {
	prev := s.m[t.key]
	s.m[t.key] = t
	return prev
}

// remove deletes the mapping for a fingerprint and returns the removed
// task, or nil. Byte accounting is the caller's job.
func (s *store[K, V]) remove(key string) *task[K, V] {
	t, ok := s.m[key]
	if !ok {
		return nil
	}
	delete(s.m, key)
	return t
}

// each calls fn for every resident task until fn returns false.
// Iteration order is unspecified.
func (s *store[K, V]) each(fn func(*task[K, V]) bool) {
	for _, t := range s.m {
		if !fn(t) {
			return
		}
	}
}

// len returns the number of resident tasks.
func (s *store[K, V]) len() int {
	return len(s.m)
}

// reset drops every mapping and zeroes the byte total.
func (s *store[K, V]) reset() {
	s.m = make(map[string]*task[K, V])
	s.bytes = 0
}
