package xerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	err := Wrap(ErrNotFound, "load plan 3")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "load plan 3: resource not found", err.Error())
}

func TestMessageOrDefault(t *testing.T) {
	assert.Equal(t, "fallback", MessageOrDefault(nil, "fallback"))
	assert.Equal(t, "forbidden", MessageOrDefault(ErrForbidden, "fallback"))
}
