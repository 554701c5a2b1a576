package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/pkg/schema"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreakers(threshold int, cooldown time.Duration) (*Breakers, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: threshold, Cooldown: cooldown, HalfOpenMax: 1})
	b.now = clock.now
	return b, clock
}

func TestBreakers_StartsClosed(t *testing.T) {
	b, _ := newBreakers(3, time.Second)
	assert.NoError(t, b.Allow(EndpointBehavior))
	assert.Equal(t, CircuitClosed, b.State(EndpointBehavior))
}

func TestBreakers_OpensAfterThreshold(t *testing.T) {
	b, _ := newBreakers(3, 10*time.Second)

	b.Failure(EndpointBehavior)
	b.Failure(EndpointBehavior)
	assert.Equal(t, CircuitClosed, b.State(EndpointBehavior))
	assert.Equal(t, CircuitOpen, b.Failure(EndpointBehavior))

	err := b.Allow(EndpointBehavior)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, serr.Code)
	assert.Equal(t, EndpointBehavior, serr.Details["endpoint"])

	// Endpoints are independent.
	assert.NoError(t, b.Allow(EndpointFeedback))
}

func TestBreakers_SuccessResets(t *testing.T) {
	b, _ := newBreakers(3, time.Second)
	b.Failure(EndpointFeedback)
	b.Failure(EndpointFeedback)
	b.Success(EndpointFeedback)
	b.Failure(EndpointFeedback)
	b.Failure(EndpointFeedback)
	assert.Equal(t, CircuitClosed, b.State(EndpointFeedback))
}

func TestBreakers_HalfOpenProbe(t *testing.T) {
	b, clock := newBreakers(1, 10*time.Second)
	b.Failure(EndpointBehavior)
	require.Error(t, b.Allow(EndpointBehavior))

	clock.advance(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State(EndpointBehavior))
	require.NoError(t, b.Allow(EndpointBehavior), "first probe allowed")
	require.Error(t, b.Allow(EndpointBehavior), "second probe rejected")

	// Failed probe reopens.
	assert.Equal(t, CircuitOpen, b.Failure(EndpointBehavior))
	require.Error(t, b.Allow(EndpointBehavior))

	clock.advance(11 * time.Second)
	require.NoError(t, b.Allow(EndpointBehavior))
	b.Success(EndpointBehavior)
	assert.Equal(t, CircuitClosed, b.State(EndpointBehavior))
}

func TestBreakers_DisabledWithZeroThreshold(t *testing.T) {
	b, _ := newBreakers(0, time.Second)
	for range 10 {
		b.Failure(EndpointBehavior)
	}
	assert.NoError(t, b.Allow(EndpointBehavior))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
