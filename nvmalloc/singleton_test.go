package nvmalloc

import (
	"testing"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/nvmerr"
	"github.com/stretchr/testify/require"
)

func TestSingletonLifecycle(t *testing.T) {
	opts := config.DefaultOptions()
	require.NoError(t, InitWithOptions(testBase, 4*opts.SlabSize, opts))
	defer func() {
		if _, ok := StatsGlobal(); ok {
			require.NoError(t, Shutdown())
		}
	}()

	addr, err := Allocate(32)
	require.NoError(t, err)
	require.NotZero(t, addr)

	stats, ok := StatsGlobal()
	require.True(t, ok)
	require.Equal(t, uint32(1), stats.IndexedSlabs)

	Free(addr)

	require.NoError(t, Shutdown())

	_, err = Allocate(32)
	require.Error(t, err)
	require.ErrorIs(t, err, nvmerr.ErrUninitialized)
}

func TestDoubleInitRejected(t *testing.T) {
	opts := config.DefaultOptions()
	require.NoError(t, InitWithOptions(testBase, 4*opts.SlabSize, opts))
	defer func() { require.NoError(t, Shutdown()) }()

	err := InitWithOptions(testBase, 4*opts.SlabSize, opts)
	require.Error(t, err)
	require.ErrorIs(t, err, nvmerr.ErrAlreadyInit)
}

func TestShutdownWithoutInitRejected(t *testing.T) {
	err := Shutdown()
	require.Error(t, err)
	require.ErrorIs(t, err, nvmerr.ErrUninitialized)
}

func TestFreeAndRestoreBeforeInitAreSafe(t *testing.T) {
	require.NotPanics(t, func() {
		Free(0x1000)
	})

	err := Restore(0x1000, 60)
	require.Error(t, err)
	require.ErrorIs(t, err, nvmerr.ErrUninitialized)
}
