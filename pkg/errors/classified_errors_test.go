package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindQuotaDenied, "daily limit reached")
	assert.Equal(t, "[quota_denied] daily limit reached", err.Error())

	err = err.WithRequestID("req-42")
	assert.Equal(t, "[quota_denied] daily limit reached (request_id: req-42)", err.Error())
}

func TestWrapPreservesChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, KindProviderFailure, "calling anthropic")

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, KindProviderFailure, KindOf(err))

	// Classification survives further wrapping.
	outer := Wrap(err, KindUnknown, "outer context")
	var ce *ClassifiedError
	assert.True(t, stderrors.As(outer, &ce))
	assert.Equal(t, KindUnknown, ce.Kind)
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, IsRetryable(New(KindRateLimited, "x")))
	assert.True(t, IsRetryable(New(KindProviderFailure, "x")))
	assert.True(t, IsRetryable(New(KindDecomposition, "x")))

	assert.False(t, IsRetryable(New(KindConfig, "x")))
	assert.False(t, IsRetryable(New(KindQuotaDenied, "x")))
	assert.False(t, IsRetryable(New(KindCyclicDAG, "x")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}
