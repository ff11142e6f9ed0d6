package edb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfNilIsSuccess(t *testing.T) {
	assert.Equal(t, Success, Code(nil))
}

func TestNewErrorCarriesCode(t *testing.T) {
	err := newError(NotFound)
	assert.Equal(t, NotFound, Code(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsKeyExist(err))
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := wrapError(Invalid, cause)
	assert.Equal(t, Invalid, Code(err))
	assert.ErrorIs(t, err, cause)
}

func TestIsCorruptedCoversRelatedCodes(t *testing.T) {
	assert.True(t, IsCorrupted(newError(Corrupted)))
	assert.True(t, IsCorrupted(newError(PageNotFound)))
	assert.True(t, IsCorrupted(newError(Invalid)))
	assert.False(t, IsCorrupted(newError(NotFound)))
}

func TestCodeOfForeignErrorIsCorrupted(t *testing.T) {
	assert.Equal(t, Corrupted, Code(errors.New("not an edb error")))
}

func TestErrorMessageFormatting(t *testing.T) {
	plain := newError(NotFound)
	assert.Contains(t, plain.Error(), "key not found")

	wrapped := wrapError(Invalid, errors.New("boom"))
	assert.Contains(t, wrapped.Error(), "boom")
}
