// Package effects produces the decorative particles floating behind the
// portal. It has no dependency on the transformation state.
package effects

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Particle is one floating dot. Left is a percentage of the viewport width.
type Particle struct {
	ID        uint64        `json:"id"`
	Left      float64       `json:"left_pct"`
	Size      float64       `json:"size_px"`
	Color     RGBA          `json:"color"`
	Animation time.Duration `json:"-"`
	AnimMS    int64         `json:"animation_ms"`
	SpawnedAt time.Time     `json:"spawned_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// RGBA is a CSS colour with an alpha channel in [0,1].
type RGBA struct {
	R, G, B int
	A       float64
}

// CSS renders the colour as an rgba() expression.
func (c RGBA) CSS() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %.2f)", c.R, c.G, c.B, c.A)
}

// MarshalText lets the colour travel as its CSS form.
func (c RGBA) MarshalText() ([]byte, error) {
	return []byte(c.CSS()), nil
}

// Generator draws particle attributes from a random source.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	seq uint64
}

// NewGenerator seeds a generator; equal seeds give equal particle streams.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a particle spawned at now that lives for lifetime.
func (g *Generator) Next(now time.Time, lifetime time.Duration) Particle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	p := Particle{
		ID:   g.seq,
		Left: g.rng.Float64() * 100,
		Size: g.rng.Float64()*4 + 2,
		Color: RGBA{
			R: 155 + g.rng.IntN(51),
			G: 135 + g.rng.IntN(51),
			B: 245,
			A: g.rng.Float64()*0.5 + 0.3,
		},
		Animation: time.Duration((g.rng.Float64()*3 + 4) * float64(time.Second)),
		SpawnedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
	p.AnimMS = p.Animation.Milliseconds()
	return p
}

// Emitter spawns a particle every interval and forgets it after lifetime.
type Emitter struct {
	clock    clockwork.Clock
	gen      *Generator
	interval time.Duration
	lifetime time.Duration
	max      int

	mu   sync.Mutex
	live []Particle
}

func NewEmitter(clock clockwork.Clock, gen *Generator, interval, lifetime time.Duration, max int) *Emitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if gen == nil {
		gen = NewGenerator(uint64(clock.Now().UnixNano()))
	}
	if max <= 0 {
		max = 64
	}
	return &Emitter{
		clock:    clock,
		gen:      gen,
		interval: interval,
		lifetime: lifetime,
		max:      max,
	}
}

// Run spawns particles until ctx is done.
func (e *Emitter) Run(ctx context.Context) error {
	if e.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			e.Spawn()
		}
	}
}

// Spawn adds one particle now, evicting expired ones and the oldest if full.
func (e *Emitter) Spawn() Particle {
	now := e.clock.Now().UTC()
	p := e.gen.Next(now, e.lifetime)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = append(e.pruneLocked(now), p)
	if over := len(e.live) - e.max; over > 0 {
		e.live = append([]Particle(nil), e.live[over:]...)
	}
	return p
}

// Live returns particles that have not expired, oldest first.
func (e *Emitter) Live() []Particle {
	now := e.clock.Now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = e.pruneLocked(now)
	out := make([]Particle, len(e.live))
	copy(out, e.live)
	return out
}

func (e *Emitter) pruneLocked(now time.Time) []Particle {
	kept := e.live[:0]
	for _, p := range e.live {
		if now.Before(p.ExpiresAt) {
			kept = append(kept, p)
		}
	}
	return kept
}
