package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesOpKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(Transient, "snapshot.Create", cause)
	require.Equal(t, "snapshot.Create: transient: disk full", err.Error())
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(Fatal, "pidfile.Acquire", nil)
	require.Equal(t, "pidfile.Acquire: fatal", err.Error())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Unexpected, "watcher.run", cause)
	require.True(t, errors.Is(err, cause))
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Invariant, "agent.Confirm", errors.New("unknown change id"))
	require.True(t, Is(err, Invariant))
	require.False(t, Is(err, Fatal))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), Transient))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "transient", Transient.String())
	require.Equal(t, "invariant", Invariant.String())
	require.Equal(t, "fatal", Fatal.String())
	require.Equal(t, "unexpected", Unexpected.String())
}
