package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/channel"
	"github.com/danmuck/trictl/internal/config"
	"github.com/danmuck/trictl/internal/group"
	"github.com/danmuck/trictl/internal/matrix"
	"github.com/danmuck/trictl/internal/observability"
	"github.com/danmuck/trictl/internal/region"
)

var (
	ErrInvalidRank    = errors.New("exchange: rank must be 0 or 1")
	ErrRankAssignment = errors.New("exchange: group assigned a different rank")
	ErrRunAborted     = errors.New("exchange: run aborted by peer")
)

// ConfigAbortCode is carried on the abort frame when the startup
// validation gate fails.
const ConfigAbortCode = 1

// ServiceConfig configures one exchange process.
type ServiceConfig struct {
	// Rank selects this process's role in the two-member group.
	// Rank 0 listens on Transfer.ListenAddr, rank 1 dials it.
	Rank     int
	Identity string

	Transfer config.TransferConfig

	// MetricsAddr enables the admin HTTP listener when non-empty.
	MetricsAddr string

	// Out receives the rendered matrix views. Defaults to stdout.
	Out io.Writer

	MaxConnectAttempts int
}

// DefaultServiceConfig returns the reference two-process run for the
// given rank.
func DefaultServiceConfig(rank int) ServiceConfig {
	return ServiceConfig{
		Rank:               rank,
		Identity:           fmt.Sprintf("proc-%d", rank),
		Transfer:           config.TransferConfig{}.WithDefaults(),
		MaxConnectAttempts: 10,
	}
}

// Service runs one side of the exchange.
type Service struct {
	cfg ServiceConfig
	out io.Writer
}

func NewService(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.Identity) == "" {
		cfg.Identity = fmt.Sprintf("proc-%d", cfg.Rank)
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = 10
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &Service{cfg: cfg, out: out}
}

// Run executes the whole exchange for this rank and blocks until it
// finishes or fails. Configuration violations on the sending rank
// print a one-line diagnostic, abort the peer and return the
// validation error.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Rank != 0 && s.cfg.Rank != 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidRank, s.cfg.Rank)
	}

	observability.RegisterMetrics()
	if s.cfg.MetricsAddr != "" {
		stop, err := s.startAdmin(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	ep, err := s.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ep.Close() }()

	if err := s.validationGate(ctx, ep); err != nil {
		return err
	}

	if err := ep.Barrier(ctx); err != nil {
		if errors.Is(err, group.ErrGroupAborted) {
			fmt.Fprintf(s.out, "Error: peer aborted the run: %v\n", err)
			return fmt.Errorf("%w: %v", ErrRunAborted, err)
		}
		return err
	}
	observability.RecordBarrier(s.cfg.Identity)

	return s.transfer(ctx, ep)
}

// bootstrap establishes the two-member group. Rank 0 owns the listen
// address; rank 1 dials with backoff so start order does not matter.
func (s *Service) bootstrap(ctx context.Context) (*group.Endpoint, error) {
	opts := group.Options{
		Address:            s.cfg.Transfer.ListenAddr,
		Identity:           s.cfg.Identity,
		Session:            s.cfg.Transfer.Session.GroupConfig(),
		MaxConnectAttempts: s.cfg.MaxConnectAttempts,
	}

	var (
		ep  *group.Endpoint
		err error
	)
	if s.cfg.Rank == 0 {
		ep, err = group.Listen(ctx, opts)
	} else {
		ep, err = group.Dial(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	if int(ep.Rank()) != s.cfg.Rank {
		_ = ep.Close()
		return nil, fmt.Errorf("%w: configured=%d assigned=%d", ErrRankAssignment, s.cfg.Rank, ep.Rank())
	}
	log.Info().
		Str("identity", s.cfg.Identity).
		Uint32("rank", ep.Rank()).
		Uint32("size", ep.Size()).
		Msg("group established")
	return ep, nil
}

// validationGate enforces the run preconditions. Only the sending rank
// checks; a violation prints one diagnostic line and tears the whole
// group down so the peer never blocks forever.
func (s *Service) validationGate(ctx context.Context, ep *group.Endpoint) error {
	if s.cfg.Rank != s.cfg.Transfer.SenderRank {
		return nil
	}
	err := config.ValidateTransferConfig(s.cfg.Transfer)
	if err == nil {
		return nil
	}
	fmt.Fprintf(s.out, "Error: %v\n", err)
	_ = ep.Abort(ctx, ConfigAbortCode, err.Error())
	return err
}

func (s *Service) transfer(ctx context.Context, ep *group.Endpoint) error {
	n := s.cfg.Transfer.Dimension
	desc := region.Build(n)
	ch := channel.New(ep)

	for i := 0; i < s.cfg.Transfer.Iterations; i++ {
		if s.cfg.Rank == s.cfg.Transfer.SenderRank {
			if err := s.sendOnce(ctx, ch, desc); err != nil {
				return err
			}
		} else {
			if err := s.receiveOnce(ctx, ch, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) sendOnce(ctx context.Context, ch *channel.Channel, desc region.Descriptor) error {
	m := matrix.NewSequential(desc.Dimension())

	fmt.Fprintf(s.out, "Matrix sent by process %d:\n", s.cfg.Transfer.SenderRank)
	if err := m.Render(s.out); err != nil {
		return err
	}

	start := time.Now()
	err := ch.Send(ctx, m, desc, s.cfg.Transfer.Tag)
	observability.RecordTransfer(s.cfg.Identity, "sender", desc.ElementCount(), time.Since(start), err == nil)
	if err != nil {
		log.Error().Err(err).Str("identity", s.cfg.Identity).Msg("send failed")
		return err
	}
	return nil
}

func (s *Service) receiveOnce(ctx context.Context, ch *channel.Channel, desc region.Descriptor) error {
	m := matrix.NewZero(desc.Dimension())

	start := time.Now()
	err := ch.Receive(ctx, m, desc, s.cfg.Transfer.Tag)
	observability.RecordTransfer(s.cfg.Identity, "receiver", desc.ElementCount(), time.Since(start), err == nil)
	if err != nil {
		if errors.Is(err, group.ErrGroupAborted) {
			fmt.Fprintf(s.out, "Error: peer aborted the run: %v\n", err)
			return fmt.Errorf("%w: %v", ErrRunAborted, err)
		}
		log.Error().Err(err).Str("identity", s.cfg.Identity).Msg("receive failed")
		return err
	}

	fmt.Fprintf(s.out, "Matrix received by process %d:\n", s.cfg.Transfer.ReceiverRank)
	return m.Render(s.out)
}
