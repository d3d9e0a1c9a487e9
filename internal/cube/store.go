package cube

import (
	"sort"
	"sync"

	"github.com/cubedb/cubedb/internal/intern"
)

// Store owns every cube and the interner they share. A Store is the root
// of the whole in-memory data structure; it is safe for concurrent use
// from many connection goroutines.
type Store struct {
	interner *intern.Interner

	mu    sync.RWMutex
	cubes map[string]*Cube
}

// New returns an empty store with a fresh interner.
func New() *Store {
	return &Store{
		interner: intern.New(),
		cubes:    make(map[string]*Cube),
	}
}

// Interner returns the store's shared interner.
func (s *Store) Interner() *intern.Interner {
	return s.interner
}

// AddCube creates a new, empty cube. It returns false if a cube by that
// name already exists — callers map that to ErrObjExists (-9).
func (s *Store) AddCube(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cubes[name]; ok {
		return false
	}
	s.cubes[name] = NewCube()
	return true
}

// EnsureCube returns the named cube, creating it if absent. This backs the
// auto-create-on-INSERT behaviour that the later protocol revision
// specifies.
func (s *Store) EnsureCube(name string) *Cube {
	s.mu.RLock()
	c, ok := s.cubes[name]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cubes[name]; ok {
		return c
	}
	c = NewCube()
	s.cubes[name] = c
	return c
}

// GetCube returns the named cube, or nil if it does not exist.
func (s *Store) GetCube(name string) *Cube {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cubes[name]
}

// DeleteCube removes a cube and everything it owns. It returns false if no
// such cube exists.
func (s *Store) DeleteCube(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cubes[name]; !ok {
		return false
	}
	delete(s.cubes, name)
	return true
}

// CubeNames returns every cube name, in ascending lexical order (CUBES
// does not strictly require ordering per spec, but deterministic output
// makes the protocol easier to test against).
func (s *Store) CubeNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cubes))
	for name := range s.cubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the current cube map for read-only iteration by the
// dump path. Callers must not mutate the returned map or its cubes
// outside of the cube's own synchronized methods.
func (s *Store) Snapshot() map[string]*Cube {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Cube, len(s.cubes))
	for name, c := range s.cubes {
		out[name] = c
	}
	return out
}
