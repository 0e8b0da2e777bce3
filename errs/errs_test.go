package errs_test

import (
	"errors"
	"testing"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.Wrap(errs.KindOutOfMemory, "allocation failed", cause)

	require.EqualError(t, err, "allocation failed: disk full")
	require.ErrorIs(t, err, cause)

	var target *errs.Error
	require.True(t, errors.As(err, &target))
	require.Equal(t, errs.KindOutOfMemory, target.Kind)
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := errs.New(errs.KindInvalidCast, "bad cast")
	wrapped := errs.Wrap(errs.KindInternal, "while casting", err)

	require.True(t, errs.Is(wrapped, errs.KindInvalidCast))
	require.True(t, errs.Is(wrapped, errs.KindInternal))
	require.False(t, errs.Is(wrapped, errs.KindOutOfRange))
}

func TestOfReturnsUnknownForPlainError(t *testing.T) {
	require.Equal(t, errs.KindUnknown, errs.Of(errors.New("plain")))
}

func TestKindStringFallback(t *testing.T) {
	require.Equal(t, "unknown", errs.Kind(9999).String())
	require.Equal(t, "invalid_cast", errs.KindInvalidCast.String())
}

func TestSentinelErrors(t *testing.T) {
	require.ErrorIs(t, errs.ErrRuntimeNotInitialized, errs.ErrRuntimeNotInitialized)
	require.Equal(t, errs.KindRuntimeNotInitialized, errs.Of(errs.ErrRuntimeNotInitialized))
}

func TestCancellationAcknowledge(t *testing.T) {
	c := errs.NewCancellation("shutdown")
	require.False(t, c.Acknowledged())
	require.True(t, errs.IsCancellation(c))
	require.EqualError(t, c, "task cancelled: shutdown")

	c.Acknowledge()
	require.True(t, c.Acknowledged())
}

func TestCancellationNilReason(t *testing.T) {
	c := errs.NewCancellation("")
	require.EqualError(t, c, "task cancelled")
}
