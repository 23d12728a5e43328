package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transfer.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTransferConfigDefaults(t *testing.T) {
	path := writeConfig(t, "listen_addr = \"127.0.0.1:9300\"\n")
	cfg, err := LoadTransferConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tag != 1234 {
		t.Fatalf("tag default = %d, want 1234", cfg.Tag)
	}
	if cfg.Dimension != 4 {
		t.Fatalf("dimension default = %d, want 4", cfg.Dimension)
	}
	if cfg.Iterations != 1 {
		t.Fatalf("iterations default = %d, want 1", cfg.Iterations)
	}
	if cfg.SenderRank != 0 || cfg.ReceiverRank != 1 {
		t.Fatalf("role defaults = %d/%d, want 0/1", cfg.SenderRank, cfg.ReceiverRank)
	}
	if cfg.GroupSize != 2 {
		t.Fatalf("group size default = %d, want 2", cfg.GroupSize)
	}
}

func TestValidateRejectsMultipleIterations(t *testing.T) {
	cfg := TransferConfig{Iterations: 2}.WithDefaults()
	err := ValidateTransferConfig(cfg)
	if !errors.Is(err, ErrIterationsNotOne) {
		t.Fatalf("expected ErrIterationsNotOne, got %v", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("gate should match ErrInvalidConfig, got %v", err)
	}
}

func TestValidateRejectsEqualRoles(t *testing.T) {
	cfg := TransferConfig{SenderRank: 1, ReceiverRank: 1}.WithDefaults()
	if err := ValidateTransferConfig(cfg); !errors.Is(err, ErrRolesEqual) {
		t.Fatalf("expected ErrRolesEqual, got %v", err)
	}
}

func TestValidateRejectsSmallGroup(t *testing.T) {
	cfg := TransferConfig{GroupSize: 1}.WithDefaults()
	if err := ValidateTransferConfig(cfg); !errors.Is(err, ErrGroupTooSmall) {
		t.Fatalf("expected ErrGroupTooSmall, got %v", err)
	}
}

func TestValidateRejectsRankOutsideGroup(t *testing.T) {
	cfg := TransferConfig{SenderRank: 2, ReceiverRank: 1, GroupSize: 2}.WithDefaults()
	if err := ValidateTransferConfig(cfg); !errors.Is(err, ErrRankOutOfRange) {
		t.Fatalf("expected ErrRankOutOfRange, got %v", err)
	}
}

func TestValidateRejectsBadDimension(t *testing.T) {
	cfg := TransferConfig{Dimension: -3}.WithDefaults()
	if err := ValidateTransferConfig(cfg); !errors.Is(err, ErrDimensionInvalid) {
		t.Fatalf("expected ErrDimensionInvalid, got %v", err)
	}
}

func TestSessionConfigConversion(t *testing.T) {
	session := SessionConfig{
		ConnectTimeoutMS: 1500,
		ReadTimeoutMS:    2500,
		SecurityMode:     "production",
		TLS: TLSSection{
			Enabled:  true,
			Mutual:   true,
			CAFile:   "ca.pem",
			CertFile: "node.pem",
			KeyFile:  "node-key.pem",
		},
	}
	cfg := session.GroupConfig()
	if cfg.ConnectTimeout != 1500*time.Millisecond {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout != 2500*time.Millisecond {
		t.Fatalf("read timeout = %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout <= 0 {
		t.Fatalf("write timeout default not applied: %v", cfg.WriteTimeout)
	}
	if !cfg.TLS.Enabled || !cfg.TLS.Mutual {
		t.Fatalf("tls section not carried: %+v", cfg.TLS)
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfer.toml")
	if err := WriteTemplate(path, "transfer", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "transfer", false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	cfg, err := LoadTransferConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if err := ValidateTransferConfig(cfg); err != nil {
		t.Fatalf("validate template: %v", err)
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	if _, err := Template("bogus"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
