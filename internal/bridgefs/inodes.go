package bridgefs

import (
	"path"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// inodeTable is the bridge's inode bookkeeping: the translation between the kernel's inode-addressed callbacks and the
// peer's path-addressed wire protocol (every request on the wire names a
// path, never an inode). Grounded on gcsfuse's internal/fs inode table,
// which does the same job translating inode IDs to GCS object names over
// a flat bucket namespace; here the "backing store" is the browser's
// filesystem.dom tree instead of a bucket.
type inodeTable struct {
	mu sync.RWMutex

	pathByInode map[fuseops.InodeID]string
	inodeByPath map[string]fuseops.InodeID
	lookupCount map[fuseops.InodeID]uint64

	next fuseops.InodeID
}

func newInodeTable() *inodeTable {
	t := &inodeTable{
		pathByInode: make(map[fuseops.InodeID]string),
		inodeByPath: make(map[string]fuseops.InodeID),
		lookupCount: make(map[fuseops.InodeID]uint64),
		next:        fuseops.RootInodeID + 1,
	}
	t.pathByInode[fuseops.RootInodeID] = "/"
	t.inodeByPath["/"] = fuseops.RootInodeID
	// The root inode is never forgotten by the kernel, so it carries no
	// lookup count and is never removed from the table.
	return t
}

// path returns the path for inode, or "" if it is not known.
func (t *inodeTable) path(inode fuseops.InodeID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pathByInode[inode]
	return p, ok
}

// childPath joins parent's path and name; it reports false if parent is
// not known.
func (t *inodeTable) childPath(parent fuseops.InodeID, name string) (string, bool) {
	parentPath, ok := t.path(parent)
	if !ok {
		return "", false
	}
	return path.Join(parentPath, name), true
}

// lookup grows the table: it assigns (or reuses) an inode ID for p and
// bumps its kernel lookup count by one, per the FUSE contract that every
// entry returned to the kernel (LookUpInode, MkDir, CreateFile, ...)
// counts as one lookup reference that must be balanced by a later
// ForgetInode.
func (t *inodeTable) lookup(p string) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.inodeByPath[p]; ok {
		t.lookupCount[id]++
		return id
	}

	id := t.next
	t.next++
	t.pathByInode[id] = p
	t.inodeByPath[p] = id
	t.lookupCount[id] = 1
	return id
}

// forget shrinks the table: it decrements inode's lookup count by n and,
// if it reaches zero, removes the inode (and its path) entirely. The
// root inode is never removed.
func (t *inodeTable) forget(inode fuseops.InodeID, n uint64) {
	if inode == fuseops.RootInodeID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	count, ok := t.lookupCount[inode]
	if !ok {
		return
	}
	if n >= count {
		p := t.pathByInode[inode]
		delete(t.pathByInode, inode)
		delete(t.inodeByPath, p)
		delete(t.lookupCount, inode)
		return
	}
	t.lookupCount[inode] = count - n
}
