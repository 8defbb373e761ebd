package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("book: %w", Conflict("slot already booked"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.False(t, Is(nil, KindConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := Conflict("slot already booked")
	err := fmt.Errorf("tx: %w", Conflict("slot already booked"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, Conflict("other"))
	assert.NotErrorIs(t, err, NotFound("slot already booked"))
}

func TestPublicMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	internal := Internal("load doctor", cause)

	assert.Equal(t, "internal server error", PublicMessage(internal))
	assert.ErrorIs(t, internal, cause)
	assert.Equal(t, "doctor not found", PublicMessage(NotFound("doctor not found")))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("raw")))
	assert.Equal(t, "bad time 25:00", PublicMessage(Validationf("bad time %s", "25:00")))

	upstream := Unavailable("assistant unavailable", cause)
	assert.Equal(t, "assistant unavailable", PublicMessage(upstream))
	assert.Equal(t, KindUnavailable, KindOf(upstream))
	assert.ErrorIs(t, upstream, cause)
}
