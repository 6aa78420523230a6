package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockguardd.pid")

	pf, err := Acquire(path)
	require.NoError(t, err)
	defer pf.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockguardd.pid")

	pf, err := Acquire(path)
	require.NoError(t, err)
	defer pf.Release()

	_, err = Acquire(path)
	require.Error(t, err)
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockguardd.pid")

	pf, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, pf.Release())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	pf2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, pf2.Release())
}
