package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDoublesFromBase(t *testing.T) {
	s := Exponential(5*time.Millisecond, 3, 0)

	assert.Equal(t, []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
	}, s.Delays)
}

func TestDelayJitterStaysInBounds(t *testing.T) {
	s := Exponential(5*time.Millisecond, 3, 0.5)

	for i := range s.Delays {
		base := s.Delays[i]
		for trial := 0; trial < 50; trial++ {
			d := s.Delay(i)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, base+base/2)
		}
	}
}

func TestDelayWithoutJitterIsExact(t *testing.T) {
	s := Exponential(5*time.Millisecond, 2, 0)
	assert.Equal(t, 5*time.Millisecond, s.Delay(0))
	assert.Equal(t, 10*time.Millisecond, s.Delay(1))
}
