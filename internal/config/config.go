package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is the base of the configuration error taxonomy;
// every validation gate matches it via errors.Is.
var ErrInvalidConfig = errors.New("config: invalid transfer config")

var (
	ErrIterationsNotOne  = fmt.Errorf("%w: iterations must be exactly 1", ErrInvalidConfig)
	ErrRolesEqual        = fmt.Errorf("%w: sender and receiver rank must differ", ErrInvalidConfig)
	ErrGroupTooSmall     = fmt.Errorf("%w: group size must be at least 2", ErrInvalidConfig)
	ErrRankOutOfRange    = fmt.Errorf("%w: rank outside group", ErrInvalidConfig)
	ErrDimensionInvalid  = fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	ErrListenAddrMissing = fmt.Errorf("%w: listen addr is required", ErrInvalidConfig)
)

// TransferConfig describes one upper-triangle exchange run: which rank
// sends, which receives, the matrix dimension and the message tag both
// sides must agree on.
type TransferConfig struct {
	Tag          uint32 `toml:"tag"`
	SenderRank   int    `toml:"sender_rank"`
	ReceiverRank int    `toml:"receiver_rank"`
	Iterations   int    `toml:"iterations"`
	Dimension    int    `toml:"dimension"`
	GroupSize    int    `toml:"group_size"`
	ListenAddr   string `toml:"listen_addr"`
	MetricsAddr  string `toml:"metrics_addr"`

	Session SessionConfig `toml:"session"`
}

func LoadTransferConfig(path string) (TransferConfig, error) {
	var cfg TransferConfig
	if err := loadToml(path, &cfg); err != nil {
		return TransferConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := ValidateTransferConfig(cfg); err != nil {
		return TransferConfig{}, err
	}
	return cfg, nil
}

// WithDefaults fills unset fields with the reference scenario values.
func (c TransferConfig) WithDefaults() TransferConfig {
	if c.Tag == 0 {
		c.Tag = 1234
	}
	if c.Iterations == 0 {
		c.Iterations = 1
	}
	if c.Dimension == 0 {
		c.Dimension = 4
	}
	if c.GroupSize == 0 {
		c.GroupSize = 2
	}
	if c.ReceiverRank == 0 && c.SenderRank == 0 {
		c.ReceiverRank = 1
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9300"
	}
	return c
}

// ValidateTransferConfig enforces the run preconditions. Every gate
// maps to a distinct sentinel so callers can report a precise abort
// reason to the peer.
func ValidateTransferConfig(cfg TransferConfig) error {
	if cfg.Iterations != 1 {
		return fmt.Errorf("%w: got %d", ErrIterationsNotOne, cfg.Iterations)
	}
	if cfg.SenderRank == cfg.ReceiverRank {
		return fmt.Errorf("%w: both are %d", ErrRolesEqual, cfg.SenderRank)
	}
	if cfg.GroupSize < 2 {
		return fmt.Errorf("%w: got %d", ErrGroupTooSmall, cfg.GroupSize)
	}
	if cfg.SenderRank < 0 || cfg.SenderRank >= cfg.GroupSize {
		return fmt.Errorf("%w: sender_rank=%d group_size=%d", ErrRankOutOfRange, cfg.SenderRank, cfg.GroupSize)
	}
	if cfg.ReceiverRank < 0 || cfg.ReceiverRank >= cfg.GroupSize {
		return fmt.Errorf("%w: receiver_rank=%d group_size=%d", ErrRankOutOfRange, cfg.ReceiverRank, cfg.GroupSize)
	}
	if cfg.Dimension < 1 {
		return fmt.Errorf("%w: got %d", ErrDimensionInvalid, cfg.Dimension)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return ErrListenAddrMissing
	}
	return nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
