package birthdeath

import (
	"runtime"
	"sync"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("birthdeath")

// Key identifies a transition matrix. Keys are compared exactly.
type Key struct {
	BranchLength float64
	Lambda       float64
	Mu           float64
}

// Cache memoizes transition matrices of a fixed size. A cache is owned
// by a single model; Get and Warm are safe for concurrent use.
type Cache struct {
	size     int
	chooseLn *ChooseLnCache

	mu       sync.Mutex
	matrices map[Key]*Matrix
	computed int
}

// NewCache creates a cache for matrices covering sizes 0..size-1.
func NewCache(size int) *Cache {
	return &Cache{
		size:     size,
		chooseLn: NewChooseLnCache(2*size + 1),
		matrices: make(map[Key]*Matrix),
	}
}

// Size returns the matrix dimension.
func (c *Cache) Size() int {
	return c.size
}

// ChooseLn returns the shared log-choose table.
func (c *Cache) ChooseLn() *ChooseLnCache {
	return c.chooseLn
}

// Get returns the matrix for the given branch length and rates,
// computing it on the first request.
func (c *Cache) Get(t, lambda, mu float64) *Matrix {
	key := Key{t, lambda, mu}
	c.mu.Lock()
	m, ok := c.matrices[key]
	c.mu.Unlock()
	if ok {
		return m
	}
	m = NewMatrix(t, lambda, mu, c.size, c.chooseLn)
	return c.store(key, m)
}

// store keeps the first stored matrix if two goroutines raced.
func (c *Cache) store(key Key, m *Matrix) *Matrix {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.matrices[key]; ok {
		return old
	}
	c.matrices[key] = m
	c.computed++
	return m
}

// Warm computes all missing matrices for keys in parallel.
func (c *Cache) Warm(keys []Key) {
	missing := make([]Key, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	c.mu.Lock()
	for _, key := range keys {
		if _, ok := c.matrices[key]; ok || seen[key] {
			continue
		}
		seen[key] = true
		missing = append(missing, key)
	}
	c.mu.Unlock()
	if len(missing) == 0 {
		return
	}
	log.Debugf("Computing %d transition matrices", len(missing))

	nWorkers := runtime.GOMAXPROCS(0)
	tasks := make(chan Key, len(missing))
	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range tasks {
				m := NewMatrix(key.BranchLength, key.Lambda, key.Mu, c.size, c.chooseLn)
				c.store(key, m)
			}
		}()
	}
	for _, key := range missing {
		tasks <- key
	}
	close(tasks)
	wg.Wait()
}

// Invalidate drops all matrices. The log-choose table is kept.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matrices = make(map[Key]*Matrix)
}

// Len returns the number of cached matrices.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.matrices)
}

// Computed returns how many matrices were computed since creation.
func (c *Cache) Computed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computed
}
