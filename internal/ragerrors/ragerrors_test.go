package ragerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ClassifiedError(t *testing.T) {
	err := New(KindNotFound, "server not found")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestKindOf_WrappedError(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindUpstream, "fetch failed", cause)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_PlainErrorDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(KindProbeFailure, "probe failed", errors.New("dial timeout"))
	assert.Contains(t, err.Error(), "probe failed")
	assert.Contains(t, err.Error(), "dial timeout")
}
