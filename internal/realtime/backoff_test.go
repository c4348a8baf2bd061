package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 8}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for n, w := range want {
		assert.Equal(t, w, b.Delay(n), "attempt %d", n)
	}
}

func TestBackoffDelayMatchesFormula(t *testing.T) {
	b := Backoff{Base: 150 * time.Millisecond, Max: 5 * time.Second}
	for n := 0; n < 40; n++ {
		expected := b.Max
		if n < 20 {
			if d := b.Base * time.Duration(1<<uint(n)); d < b.Max {
				expected = d
			}
		}
		assert.Equal(t, expected, b.Delay(n), "attempt %d", n)
	}
}

func TestBackoffHugeAttemptDoesNotOverflow(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Minute, b.Delay(500))
	assert.Equal(t, time.Second, b.Delay(-3))
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	assert.False(t, b.Exhausted(0))
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))
	assert.True(t, Backoff{}.Exhausted(0))
}
