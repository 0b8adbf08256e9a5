package depcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache"
)

func Test_LockDir_Fails_When_Engine_Open(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first := openEngine(t, dir)
	second := openEngine(t, dir)

	_, err := depcache.LockDir(dir)
	require.ErrorIs(t, err, depcache.ErrCacheInUse)

	require.NoError(t, first.Close())

	_, err = depcache.LockDir(dir)
	require.ErrorIs(t, err, depcache.ErrCacheInUse, "every open engine holds the directory")

	require.NoError(t, second.Close())

	lock, err := depcache.LockDir(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Close())
	require.NoError(t, lock.Close())
}
