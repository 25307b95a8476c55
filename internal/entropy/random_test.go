package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func draw(s *Streams, agent, tick uint64) []int {
	r := s.Agent(agent, tick)
	out := make([]int, 5)
	for i := range out {
		out[i] = r.Intn(1 << 30)
	}
	return out
}

func TestStreamsAreReproducible(t *testing.T) {
	a, b := New(7), New(7)
	assert.Equal(t, draw(a, 3, 10), draw(b, 3, 10))
	assert.Equal(t, a.Named("world").Int63(), b.Named("world").Int63())
}

func TestStreamsAreIndependent(t *testing.T) {
	s := New(7)
	assert.NotEqual(t, draw(s, 3, 10), draw(s, 4, 10), "agents")
	assert.NotEqual(t, draw(s, 3, 10), draw(s, 3, 11), "ticks")
	assert.NotEqual(t, draw(s, 3, 10), draw(New(8), 3, 10), "seeds")
}

func TestRandomSeedIsPositive(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Positive(t, RandomSeed())
	}
}
