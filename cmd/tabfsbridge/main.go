// Command tabfsbridge mounts a FUSE filesystem whose every read, write,
// and directory listing is proxied to a connected browser extension over
// a JSON wire protocol. It is the native-messaging/loopback host half of
// that bridge; all domain logic (what the tree contains) lives in the
// extension.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tabfs/bridge/internal/bridgeconfig"
	"github.com/tabfs/bridge/internal/bridgefs"
	"github.com/tabfs/bridge/internal/bridgelog"
	"github.com/tabfs/bridge/internal/mux"
	"github.com/tabfs/bridge/internal/reader"
	"github.com/tabfs/bridge/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "tabfsbridge [mount point]",
		Short: "Mount a FUSE filesystem backed by a live browser extension",
		Args:  cobra.MaximumNArgs(1),
		RunE:  run,
	}
	bridgeconfig.DefineFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := bridgeconfig.FromFlags(cmd.Flags(), args)
	if err != nil {
		return errors.Wrap(err, "tabfsbridge: configuration")
	}

	log, closeLog, err := bridgelog.New(cfg.LogFile, bridgelog.ParseLevel(cfg.LogLevel))
	if err != nil {
		return errors.Wrap(err, "tabfsbridge: open log")
	}
	defer closeLog()

	log.WithField("mount_point", cfg.MountPoint).WithField("transport", cfg.Transport).Info("tabfsbridge starting")

	evictStalePeer()
	forceUnmount(cfg.MountPoint)

	if err := os.MkdirAll(cfg.MountPoint, 0o755); err != nil {
		return errors.Wrap(err, "tabfsbridge: create mount point")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dialer transport.Dialer
	switch cfg.Transport {
	case bridgeconfig.TransportPipe:
		dialer = transport.PipeDialer{In: os.Stdin, Out: os.Stdout}
	case bridgeconfig.TransportWebSocket:
		dialer = transport.WebSocketDialer{Addr: cfg.WSAddr, Log: log}
	default:
		return fmt.Errorf("tabfsbridge: unknown transport %q", cfg.Transport)
	}

	t, err := dialer.Dial(ctx)
	if err != nil {
		return errors.Wrap(err, "tabfsbridge: start transport")
	}
	defer t.Close()

	m := mux.New(t, cfg.Slots, log)
	rd := reader.New(t, m, log)
	go rd.Run()

	fs := bridgefs.New(m, log)
	server := fuseutil.NewFileSystemServer(fs)

	mountCfg := &fuse.MountConfig{
		// Writeback caching would let the kernel coalesce writes before
		// they ever reach WriteFile, hiding them from the peer.
		DisableWritebackCaching: true,
	}

	mfs, err := fuse.Mount(cfg.MountPoint, server, mountCfg)
	if err != nil {
		return errors.Wrap(err, "tabfsbridge: mount")
	}

	log.Info("tabfsbridge mounted, waiting for unmount")
	if err := mfs.Join(ctx); err != nil {
		return errors.Wrap(err, "tabfsbridge: join")
	}

	return nil
}

// evictStalePeer kills any previously-running instance of this binary,
// mirroring the original native host's startup hygiene
// ("pgrep tabfs | grep -v $pid | xargs kill -9"): a crashed or orphaned
// prior run would otherwise hold the mount point and refuse the new one.
func evictStalePeer() {
	self := os.Args[0]
	out, err := exec.Command("pgrep", "-f", self).Output()
	if err != nil {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	for _, line := range splitLines(out) {
		if line == "" || line == pid {
			continue
		}
		_ = exec.Command("kill", "-9", line).Run()
	}
}

// forceUnmount clears a stale mount left behind by a prior crash, the
// way the original implementation called fusermount -u / diskutil umount
// before mounting.
func forceUnmount(mountPoint string) {
	if runtime.GOOS == "darwin" {
		_ = exec.Command("diskutil", "umount", "force", mountPoint).Run()
		return
	}
	_ = exec.Command("fusermount", "-u", mountPoint).Run()
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}
