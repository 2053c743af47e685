package bridgefs

import (
	"os"

	"golang.org/x/sys/unix"
)

// modeFromStMode converts a raw POSIX st_mode (as reported by the peer,
// mirroring struct stat::st_mode from the original native host) into the
// os.FileMode shape fuseops.InodeAttributes expects, which encodes the
// type bits differently than POSIX does.
func modeFromStMode(raw uint32) os.FileMode {
	perm := os.FileMode(raw & 0o7777)

	switch raw & unix.S_IFMT {
	case unix.S_IFDIR:
		perm |= os.ModeDir
	case unix.S_IFLNK:
		perm |= os.ModeSymlink
	}

	return perm
}

// stModeFromMode is the inverse conversion, used when this bridge itself
// must originate a mode (mkdir/create requests to the peer).
func stModeFromMode(mode os.FileMode) uint32 {
	perm := uint32(mode.Perm())

	switch {
	case mode&os.ModeDir != 0:
		return perm | unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		return perm | unix.S_IFLNK
	default:
		return perm | unix.S_IFREG
	}
}
