package cosimerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cosimkit/cosim/cosimerr"
)

func TestKindComparison(t *testing.T) {
	err := cosimerr.New(cosimerr.KindSlaveError, "slave %d failed", 3)
	assert.True(t, errors.Is(err, cosimerr.ErrSlaveError))
	assert.False(t, errors.Is(err, cosimerr.ErrDomainError))

	k, ok := cosimerr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, cosimerr.KindSlaveError, k)
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := cosimerr.Wrap(cosimerr.KindIOError, cause, "reading model description")
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, cosimerr.ErrIOError))
}
