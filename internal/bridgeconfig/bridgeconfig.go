// Package bridgeconfig layers flags, environment variables, and defaults
// into a single Config, the way gcsfuse's cmd package layers its mount
// flags through viper.
package bridgeconfig

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	TransportPipe      = "pipe"
	TransportWebSocket = "websocket"
)

// Config holds every ambient setting the bridge needs at startup. None of
// these are domain settings; the domain (which paths exist, what they
// contain) is entirely owned by the peer.
type Config struct {
	MountPoint string
	Transport  string
	LogFile    string
	LogLevel   string
	Slots      int
	WSAddr     string
}

// DefineFlags registers the bridge's ambient flags on fs. Call this
// before the owning command parses argv (cobra does so inside
// Execute), then pass the same, now-parsed, fs to FromFlags.
func DefineFlags(fs *pflag.FlagSet) {
	fs.String("transport", TransportPipe, "peer transport: pipe or websocket")
	fs.String("log-file", "log.txt", "log file path (empty disables file logging)")
	fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
	fs.Int("slots", 128, "outstanding-request slot table size")
	fs.String("ws-addr", "127.0.0.1:8888", "listen address for the websocket transport")
}

// FromFlags resolves a Config from an already-parsed flag set, layering
// in TABFS_-prefixed environment variables and defaults below it, and
// positionalArgs[0] (if present) as the mount point, which takes
// precedence over TABFS_MOUNT_DIR.
func FromFlags(fs *pflag.FlagSet, positionalArgs []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABFS")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bridgeconfig: bind flags: %w", err)
	}
	if err := v.BindEnv("mount_dir", "TABFS_MOUNT_DIR"); err != nil {
		return nil, fmt.Errorf("bridgeconfig: bind env: %w", err)
	}

	mountPoint := "mnt"
	if v.IsSet("mount_dir") {
		mountPoint = v.GetString("mount_dir")
	}
	if len(positionalArgs) > 0 {
		mountPoint = positionalArgs[0]
	}

	transport := v.GetString("transport")
	if transport != TransportPipe && transport != TransportWebSocket {
		return nil, fmt.Errorf("bridgeconfig: unknown transport %q, want %q or %q", transport, TransportPipe, TransportWebSocket)
	}

	return &Config{
		MountPoint: mountPoint,
		Transport:  transport,
		LogFile:    v.GetString("log-file"),
		LogLevel:   v.GetString("log-level"),
		Slots:      v.GetInt("slots"),
		WSAddr:     v.GetString("ws-addr"),
	}, nil
}
