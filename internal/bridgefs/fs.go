// Package bridgefs implements fuseutil.FileSystem by translating every
// kernel callback into a request on the wire protocol and blocking for
// the peer's reply through the Multiplexer. Its only local state is the
// inode<->path table and the handle<->path maps; everything else (file
// content, directory listings, attributes) lives on the peer.
package bridgefs

import (
	"fmt"
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/tabfs/bridge/internal/protocol"
)

// Submitter is the subset of *mux.Multiplexer the filesystem needs.
type Submitter interface {
	Submit(req *protocol.Request) (*protocol.Response, error)
}

// FS implements fuseutil.FileSystem. Unimplemented operations (Rename,
// extended attributes, ...) fall through to the embedded
// NotImplementedFileSystem and surface ENOSYS to the kernel, matching
// the wire protocol's "any op the peer doesn't handle comes back as
// ENOSYS" contract.
type FS struct {
	fuseutil.NotImplementedFileSystem

	mux Submitter
	log *logrus.Logger

	inodes *inodeTable

	handleMu   sync.Mutex
	nextHandle fuseops.HandleID
	// dirHandles and fileHandles record which path a kernel-issued handle
	// was opened against, since ReadDir/ReadFile/WriteFile/Release* only
	// carry the handle, not the path.
	dirHandles  map[fuseops.HandleID]string
	fileHandles map[fuseops.HandleID]string
}

// New constructs an FS that submits every op through sub.
func New(sub Submitter, log *logrus.Logger) *FS {
	return &FS{
		mux:         sub,
		log:         log,
		inodes:      newInodeTable(),
		dirHandles:  make(map[fuseops.HandleID]string),
		fileHandles: make(map[fuseops.HandleID]string),
	}
}

// errnoFromResponse turns a response's wire errno into a Go error,
// nil for success.
func errnoFromResponse(resp *protocol.Response) error {
	if resp.Error == 0 {
		return nil
	}
	return unix.Errno(resp.Error)
}

// submit wraps Submitter.Submit, translating transport/mux-level
// failures (peer disconnected, send failed) into EIO, since from the
// kernel's perspective a dead peer looks exactly like an I/O error on
// the backing store (§7). Each request and its reply are logged at Debug.
func (fs *FS) submit(req *protocol.Request) (*protocol.Response, error) {
	fs.log.WithField("op", req.Op).WithField("path", req.Path).Debug("bridgefs: request")
	resp, err := fs.mux.Submit(req)
	if err != nil {
		fs.log.WithError(err).WithField("op", req.Op).Warn("bridgefs: request failed")
		return nil, unix.EIO
	}
	fs.log.WithField("op", req.Op).WithField("path", req.Path).WithField("error", resp.Error).Debug("bridgefs: response")
	return resp, nil
}

func (fs *FS) allocHandle() fuseops.HandleID {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	fs.nextHandle++
	return fs.nextHandle
}

func (fs *FS) Init(op *fuseops.InitOp) (err error) {
	return nil
}

// LOCKS_EXCLUDED(fs.inodes)
func (fs *FS) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	childPath, ok := fs.inodes.childPath(op.Parent, op.Name)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewGetattr(childPath))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attributesFromResponse(resp)
	return nil
}

func (fs *FS) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	p, ok := fs.inodes.path(op.Inode)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewGetattr(p))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	op.Attributes = attributesFromResponse(resp)
	return nil
}

// SetInodeAttributes supports only truncation (op.Size), the only
// attribute change the wire protocol's truncate op can express (§9).
// A chmod/chown/utimes request is reported as unsupported.
func (fs *FS) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	p, ok := fs.inodes.path(op.Inode)
	if !ok {
		return unix.ENOENT
	}

	if op.Mode != nil || op.Atime != nil || op.Mtime != nil {
		return unix.ENOSYS
	}

	if op.Size != nil {
		resp, err := fs.submit(protocol.NewTruncate(p, int64(*op.Size)))
		if err != nil {
			return err
		}
		if err := errnoFromResponse(resp); err != nil {
			return err
		}
	}

	resp, err := fs.submit(protocol.NewGetattr(p))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}
	op.Attributes = attributesFromResponse(resp)
	return nil
}

func (fs *FS) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	fs.inodes.forget(op.Inode, op.N)
	return nil
}

func (fs *FS) MkDir(op *fuseops.MkDirOp) (err error) {
	childPath, ok := fs.inodes.childPath(op.Parent, op.Name)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewMkdir(childPath, stModeFromMode(op.Mode)))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attributesFromMkdir(op.Mode, resp)
	return nil
}

// CreateFile creates and opens a file in one round trip. When the peer's
// create response omits fh (§9), this mints a local file handle and
// records the new file's path against it. No open request is sent for
// such a handle, neither here nor later: ReadFile/WriteFile pass the
// locally minted handle to the peer as fh.
func (fs *FS) CreateFile(op *fuseops.CreateFileOp) (err error) {
	childPath, ok := fs.inodes.childPath(op.Parent, op.Name)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewCreate(childPath, stModeFromMode(op.Mode)))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attributesFromMkdir(op.Mode, resp)

	if resp.Fh != nil {
		handle := fuseops.HandleID(*resp.Fh)
		fs.handleMu.Lock()
		fs.fileHandles[handle] = childPath
		fs.handleMu.Unlock()
		op.Handle = handle
		return nil
	}

	// Fallback: mint a local handle that no peer fh backs; later requests
	// against it carry this local value as fh.
	handle := fs.allocHandle()
	fs.handleMu.Lock()
	fs.fileHandles[handle] = childPath
	fs.handleMu.Unlock()
	op.Handle = handle
	return nil
}

func (fs *FS) RmDir(op *fuseops.RmDirOp) (err error) {
	childPath, ok := fs.inodes.childPath(op.Parent, op.Name)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewUnlink(childPath))
	if err != nil {
		return err
	}
	return errnoFromResponse(resp)
}

func (fs *FS) Unlink(op *fuseops.UnlinkOp) (err error) {
	childPath, ok := fs.inodes.childPath(op.Parent, op.Name)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewUnlink(childPath))
	if err != nil {
		return err
	}
	return errnoFromResponse(resp)
}

func (fs *FS) OpenDir(op *fuseops.OpenDirOp) (err error) {
	p, ok := fs.inodes.path(op.Inode)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewOpendir(p, int32(op.Flags)))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	handle := fs.allocHandle()
	if resp.Fh != nil {
		handle = fuseops.HandleID(*resp.Fh)
	}

	fs.handleMu.Lock()
	fs.dirHandles[handle] = p
	fs.handleMu.Unlock()

	op.Handle = handle
	return nil
}

func (fs *FS) ReadDir(op *fuseops.ReadDirOp) (err error) {
	fs.handleMu.Lock()
	p, ok := fs.dirHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return unix.EINVAL
	}

	resp, err := fs.submit(protocol.NewReaddir(p, int64(op.Offset)))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	// The wire protocol always returns the full listing starting at the
	// requested offset (§3), unlike the kernel's own paging scheme, so
	// every entry here gets a successive DirOffset. The peer reports only
	// names, not types (mirroring the original C implementation's
	// filler(buf, entry, NULL, 0) call), so every entry is DT_Unknown;
	// the kernel falls back to a GetInodeAttributes/LookUpInode call when
	// it needs the real type.
	for i, name := range resp.Entries {
		de := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(i) + 1,
			Inode:  fuseops.InodeID(0),
			Name:   name,
			Type:   fuseutil.DT_Unknown,
		}
		next := fuseutil.AppendDirent(op.Data, de)
		if len(next) > op.Size {
			break
		}
		op.Data = next
	}

	return nil
}

func (fs *FS) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	fs.handleMu.Lock()
	p, ok := fs.dirHandles[op.Handle]
	delete(fs.dirHandles, op.Handle)
	fs.handleMu.Unlock()
	if !ok {
		return nil
	}

	resp, err := fs.submit(protocol.NewReleasedir(p, uint64(op.Handle)))
	if err != nil {
		return err
	}
	return errnoFromResponse(resp)
}

func (fs *FS) OpenFile(op *fuseops.OpenFileOp) (err error) {
	p, ok := fs.inodes.path(op.Inode)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewOpen(p, int32(op.Flags)))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	handle := fs.allocHandle()
	if resp.Fh != nil {
		handle = fuseops.HandleID(*resp.Fh)
	}

	fs.handleMu.Lock()
	fs.fileHandles[handle] = p
	fs.handleMu.Unlock()

	op.Handle = handle
	return nil
}

func (fs *FS) ReadFile(op *fuseops.ReadFileOp) (err error) {
	fs.handleMu.Lock()
	p, ok := fs.fileHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return unix.EINVAL
	}

	resp, err := fs.submit(protocol.NewRead(p, int64(op.Size), op.Offset, uint64(op.Handle), 0))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	data, err := protocol.DecodeBuf(resp)
	if err != nil {
		return fmt.Errorf("bridgefs: read %s: %w", p, err)
	}

	// §9: a peer that returns more than the requested size is truncated,
	// never treated as a fatal protocol error.
	if len(data) > op.Size {
		data = data[:op.Size]
	}
	op.Data = data
	return nil
}

func (fs *FS) ReadSymlink(op *fuseops.ReadSymlinkOp) (err error) {
	p, ok := fs.inodes.path(op.Inode)
	if !ok {
		return unix.ENOENT
	}

	resp, err := fs.submit(protocol.NewReadlink(p))
	if err != nil {
		return err
	}
	if err := errnoFromResponse(resp); err != nil {
		return err
	}

	data, err := protocol.DecodeBuf(resp)
	if err != nil {
		return fmt.Errorf("bridgefs: readlink %s: %w", p, err)
	}
	op.Target = string(data)
	return nil
}

func (fs *FS) WriteFile(op *fuseops.WriteFileOp) (err error) {
	fs.handleMu.Lock()
	p, ok := fs.fileHandles[op.Handle]
	fs.handleMu.Unlock()
	if !ok {
		return unix.EINVAL
	}

	resp, err := fs.submit(protocol.NewWrite(p, op.Data, op.Offset, uint64(op.Handle), 0))
	if err != nil {
		return err
	}
	return errnoFromResponse(resp)
}

func (fs *FS) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	fs.handleMu.Lock()
	p, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.handleMu.Unlock()
	if !ok {
		return nil
	}

	resp, err := fs.submit(protocol.NewRelease(p, uint64(op.Handle)))
	if err != nil {
		return err
	}
	return errnoFromResponse(resp)
}

func attributesFromResponse(resp *protocol.Response) fuseops.InodeAttributes {
	attr := fuseops.InodeAttributes{Nlink: 1}
	if resp.StMode != nil {
		attr.Mode = modeFromStMode(*resp.StMode)
	}
	if resp.StNlink != nil {
		attr.Nlink = uint64(*resp.StNlink)
	}
	if resp.StSize != nil {
		attr.Size = uint64(*resp.StSize)
	}
	return attr
}

func attributesFromMkdir(requestedMode os.FileMode, resp *protocol.Response) fuseops.InodeAttributes {
	attr := attributesFromResponse(resp)
	if resp.StMode == nil {
		// The peer's create/mkdir response may omit st_mode entirely; fall
		// back to what the kernel asked for rather than reporting a zero
		// mode, which the kernel would read back as "no permissions at
		// all".
		attr.Mode = requestedMode
	}
	return attr
}
