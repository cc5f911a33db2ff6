package config

import (
	"log"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/shellgate"`
	SocketPath string `envconfig:"SOCKET_PATH" default:""`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	WebAddr string `envconfig:"WEB_ADDR" default:":4020"`
	SSHAddr string `envconfig:"SSH_ADDR" default:""`

	// AuthDisabled skips the authentication gate entirely. Only for
	// isolated or test environments.
	AuthDisabled bool     `envconfig:"AUTH_DISABLED" default:"false"`
	RPID         string   `envconfig:"RP_ID" default:"localhost"`
	RPOrigins    []string `envconfig:"RP_ORIGINS" default:"http://localhost:4020"`

	// PasswordLogin enables the bcrypt password fallback next to passkeys.
	PasswordLogin bool `envconfig:"PASSWORD_LOGIN" default:"false"`

	// TrustedProtoHeaders name forwarded-protocol headers whose "https"
	// value marks a connection as logically secure. TrustedTunnelHeaders
	// mark a connection secure by mere presence (TLS-terminating tunnel
	// providers). Both are security-relevant allowlists; extend with care.
	TrustedProtoHeaders  []string `envconfig:"TRUSTED_PROTO_HEADERS" default:"X-Forwarded-Proto"`
	TrustedTunnelHeaders []string `envconfig:"TRUSTED_TUNNEL_HEADERS" default:"CF-Connecting-IP"`

	Shell          string `envconfig:"SHELL_CMD" default:""`
	ScrollbackSize int    `envconfig:"SCROLLBACK_SIZE" default:"1048576"`

	SessionTTL string `envconfig:"SESSION_TTL" default:"168h"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.SocketPath == "" {
		Cfg.SocketPath = filepath.Join(Cfg.DataPath, "shellgated.sock")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "shellgate.log")
	}
}
