package worker

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Picker chooses which of n workers serves the next event. Policies are
// injectable so load balancing stays swappable and deterministic in tests.
type Picker interface {
	Pick(n int) int
}

// NewRandomPicker returns the default policy: uniform random choice.
// Random avoids the shared-counter contention of round-robin on the hot
// path.
func NewRandomPicker() Picker {
	return &randomPicker{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewSeededPicker returns a random policy with a fixed seed, for
// deterministic tests.
func NewSeededPicker(seed int64) Picker {
	return &randomPicker{rng: rand.New(rand.NewSource(seed))}
}

type randomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (p *randomPicker) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// NewRoundRobinPicker returns a policy that cycles through workers in
// order.
func NewRoundRobinPicker() Picker {
	return &roundRobinPicker{}
}

type roundRobinPicker struct {
	next atomic.Uint64
}

func (p *roundRobinPicker) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return int((p.next.Add(1) - 1) % uint64(n))
}
