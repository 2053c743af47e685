package bridgefs

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInodeTableSeedsRoot(t *testing.T) {
	it := newInodeTable()

	p, ok := it.path(fuseops.RootInodeID)
	require.True(t, ok)
	assert.Equal(t, "/", p)
}

func TestChildPathJoinsParent(t *testing.T) {
	it := newInodeTable()

	p, ok := it.childPath(fuseops.RootInodeID, "tabs")
	require.True(t, ok)
	assert.Equal(t, "/tabs", p)
}

func TestChildPathUnknownParent(t *testing.T) {
	it := newInodeTable()
	_, ok := it.childPath(fuseops.InodeID(999), "x")
	assert.False(t, ok)
}

func TestLookupMintsNewInodeThenReuses(t *testing.T) {
	it := newInodeTable()

	id1 := it.lookup("/tabs/1")
	assert.NotEqual(t, fuseops.RootInodeID, id1)

	id2 := it.lookup("/tabs/1")
	assert.Equal(t, id1, id2)

	p, ok := it.path(id1)
	require.True(t, ok)
	assert.Equal(t, "/tabs/1", p)
}

func TestLookupDistinctPathsGetDistinctInodes(t *testing.T) {
	it := newInodeTable()
	id1 := it.lookup("/tabs/1")
	id2 := it.lookup("/tabs/2")
	assert.NotEqual(t, id1, id2)
}

func TestForgetRemovesInodeWhenCountReachesZero(t *testing.T) {
	it := newInodeTable()
	id := it.lookup("/tabs/1") // lookup count 1
	it.lookup("/tabs/1")       // lookup count 2

	it.forget(id, 1)
	_, ok := it.path(id)
	assert.True(t, ok, "inode should still exist with count 1")

	it.forget(id, 1)
	_, ok = it.path(id)
	assert.False(t, ok, "inode should be removed once count reaches zero")
}

func TestForgetNeverRemovesRoot(t *testing.T) {
	it := newInodeTable()
	it.forget(fuseops.RootInodeID, 1000)

	_, ok := it.path(fuseops.RootInodeID)
	assert.True(t, ok)
}

func TestForgetUnknownInodeIsNoop(t *testing.T) {
	it := newInodeTable()
	assert.NotPanics(t, func() {
		it.forget(fuseops.InodeID(12345), 1)
	})
}

func TestLookupAfterForgetMintsFreshInode(t *testing.T) {
	it := newInodeTable()
	id1 := it.lookup("/tabs/1")
	it.forget(id1, 1)

	id2 := it.lookup("/tabs/1")
	assert.NotEqual(t, id1, id2, "a forgotten path should be treated as unseen")
}
