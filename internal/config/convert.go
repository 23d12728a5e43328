package config

import (
	"time"

	"github.com/danmuck/trictl/internal/group"
)

// SessionConfig is the TOML shape of the link reliability and security
// settings. Durations are millisecond counts; zero means default.
type SessionConfig struct {
	ConnectTimeoutMS   int64  `toml:"connect_timeout_ms"`
	AcceptTimeoutMS    int64  `toml:"accept_timeout_ms"`
	HandshakeTimeoutMS int64  `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int64  `toml:"read_timeout_ms"`
	WriteTimeoutMS     int64  `toml:"write_timeout_ms"`
	SecurityMode       string `toml:"security_mode"`

	TLS TLSSection `toml:"tls"`
}

type TLSSection struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
}

// GroupConfig converts the TOML session section into the group link
// config, with defaults applied to anything left unset.
func (s SessionConfig) GroupConfig() group.Config {
	cfg := group.Config{
		ConnectTimeout:   time.Duration(s.ConnectTimeoutMS) * time.Millisecond,
		AcceptTimeout:    time.Duration(s.AcceptTimeoutMS) * time.Millisecond,
		HandshakeTimeout: time.Duration(s.HandshakeTimeoutMS) * time.Millisecond,
		ReadTimeout:      time.Duration(s.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:     time.Duration(s.WriteTimeoutMS) * time.Millisecond,
		SecurityMode:     group.SecurityMode(s.SecurityMode),
		TLS: group.TLSConfig{
			Enabled:            s.TLS.Enabled,
			Mutual:             s.TLS.Mutual,
			InsecureSkipVerify: s.TLS.InsecureSkipVerify,
			ServerName:         s.TLS.ServerName,
			CAFile:             s.TLS.CAFile,
			CertFile:           s.TLS.CertFile,
			KeyFile:            s.TLS.KeyFile,
		},
	}
	return cfg.WithDefaults()
}
