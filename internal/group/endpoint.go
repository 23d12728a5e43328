package group

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/protocol/frame"
	"github.com/danmuck/trictl/internal/protocol/schema"
	"github.com/danmuck/trictl/internal/protocol/tlv"
)

// GroupSize is fixed: one listener, one dialer.
const GroupSize uint32 = 2

var (
	ErrAddressRequired   = errors.New("group: address required")
	ErrIdentityRequired  = errors.New("group: identity required")
	ErrJoinRejected      = errors.New("group: join rejected")
	ErrGroupAborted      = errors.New("group: aborted by peer")
	ErrGroupClosed       = errors.New("group: endpoint closed")
	ErrBarrierMismatch   = errors.New("group: barrier sequence mismatch")
	ErrUnexpectedMessage = errors.New("group: unexpected message type")
)

// Options configures one endpoint of the two-member group.
type Options struct {
	// Address is the listen address for rank 0 and the peer address
	// for rank 1.
	Address  string
	Identity string
	Session  Config

	// MaxConnectAttempts bounds dial retries; <= 0 retries forever.
	MaxConnectAttempts int
}

// Endpoint is one member of an established two-member group. All
// operations are synchronous; the link carries one in-flight message
// per direction at a time.
type Endpoint struct {
	conn     net.Conn
	reader   *bufio.Reader
	cfg      Config
	rank     uint32
	peerRank uint32
	identity string

	nextMessageID atomic.Uint64
	barrierSeq    atomic.Uint64

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Listener is the rank-0 side of group bootstrap before the peer joins.
type Listener struct {
	ln       net.Listener
	cfg      Config
	identity string
}

// NewListener binds the rank-0 accept socket without blocking for the peer.
func NewListener(ctx context.Context, opts Options) (*Listener, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return nil, ErrIdentityRequired
	}
	cfg := opts.Session.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, cfg: cfg, identity: opts.Identity}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept blocks for exactly one peer and runs the join handshake,
// producing the rank-0 endpoint.
func (l *Listener) Accept(ctx context.Context) (*Endpoint, error) {
	if tl, ok := l.ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(l.cfg.AcceptTimeout))
	}
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	if l.cfg.TLS.Enabled {
		tlsCfg, err := l.cfg.serverTLSConfig()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		tlsConn := tls.Server(conn, tlsCfg)
		handshakeCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
		err = tlsConn.HandshakeContext(handshakeCtx)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	ep, err := acceptJoin(conn, l.cfg, l.identity)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().
		Str("identity", ep.identity).
		Uint32("rank", ep.rank).
		Str("peer", conn.RemoteAddr().String()).
		Msg("group member joined")
	return ep, nil
}

// Listen binds rank 0: accept exactly one peer and run the join
// handshake. Blocks until the peer joins or the accept window closes.
func Listen(ctx context.Context, opts Options) (*Endpoint, error) {
	l, err := NewListener(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.Accept(ctx)
}

func acceptJoin(conn net.Conn, cfg Config, identity string) (*Endpoint, error) {
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	reader := bufio.NewReader(conn)

	req, err := ReadJoinRequest(reader)
	if err != nil {
		return nil, err
	}
	ack := JoinAck{
		Status:      AckStatusAccepted,
		Rank:        1,
		GroupSize:   GroupSize,
		Identity:    req.Identity,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if err := WriteJoinAck(conn, ack); err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	ep := &Endpoint{
		conn:     conn,
		reader:   reader,
		cfg:      cfg,
		rank:     0,
		peerRank: 1,
		identity: identity,
	}
	ep.nextMessageID.Store(uint64(time.Now().UnixNano()))
	return ep, nil
}

// Dial binds rank 1: connect to the listener and run the join
// handshake, retrying with backoff until the listener is up.
func Dial(ctx context.Context, opts Options) (*Endpoint, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return nil, ErrIdentityRequired
	}
	cfg := opts.Session.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		conn, err := dialOnce(ctx, cfg, opts.Address)
		if err != nil {
			log.Warn().Int("attempt", attempt).Str("addr", opts.Address).Err(err).Msg("group dial failed")
			if opts.MaxConnectAttempts > 0 && attempt >= opts.MaxConnectAttempts {
				return nil, err
			}
			if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
				return nil, err
			}
			continue
		}

		ep, err := join(conn, cfg, opts.Identity)
		if err == nil {
			log.Info().
				Str("identity", ep.identity).
				Uint32("rank", ep.rank).
				Str("peer", conn.RemoteAddr().String()).
				Msg("group joined")
			return ep, nil
		}
		_ = conn.Close()
		if errors.Is(err, ErrJoinRejected) {
			return nil, err
		}
		if opts.MaxConnectAttempts > 0 && attempt >= opts.MaxConnectAttempts {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func dialOnce(ctx context.Context, cfg Config, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.clientTLSConfig(address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func join(conn net.Conn, cfg Config, identity string) (*Endpoint, error) {
	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	reader := bufio.NewReader(conn)

	if err := WriteJoinRequest(conn, JoinRequest{Identity: identity}); err != nil {
		return nil, err
	}
	ack, err := ReadJoinAck(reader)
	if err != nil {
		return nil, err
	}
	if ack.Status != AckStatusAccepted {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrJoinRejected, ack.Code, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})

	ep := &Endpoint{
		conn:     conn,
		reader:   reader,
		cfg:      cfg,
		rank:     ack.Rank,
		peerRank: 0,
		identity: identity,
	}
	ep.nextMessageID.Store(uint64(time.Now().UnixNano()))
	return ep, nil
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	delay := NextBackoffDelay(cfg, attempt, rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rank returns this endpoint's rank within the group.
func (e *Endpoint) Rank() uint32 {
	return e.rank
}

// PeerRank returns the rank of the other member.
func (e *Endpoint) PeerRank() uint32 {
	return e.peerRank
}

// Identity returns the identity presented at join time.
func (e *Endpoint) Identity() string {
	return e.identity
}

// Size returns the group member count.
func (e *Endpoint) Size() uint32 {
	return GroupSize
}

func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.conn != nil {
			e.closeErr = e.conn.Close()
		}
	})
	return e.closeErr
}

// WriteMessage validates fields against the schema and writes one frame.
func (e *Endpoint) WriteMessage(ctx context.Context, messageType uint32, flags uint32, fields []tlv.Field) error {
	if err := schema.Validate(messageType, fields); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return ErrGroupClosed
	}
	if err := e.setWriteDeadline(ctx); err != nil {
		return err
	}
	return frame.WriteFrame(e.conn, frame.Frame{
		Header: frame.Header{
			MessageID:   e.nextMessageID.Add(1),
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

// ReadMessage blocks for one frame and returns its decoded fields.
// A peer abort surfaces as ErrGroupAborted with the peer's reason.
func (e *Endpoint) ReadMessage(ctx context.Context) (uint32, []tlv.Field, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return 0, nil, ErrGroupClosed
	}
	if err := e.setReadDeadline(ctx); err != nil {
		return 0, nil, err
	}
	f, err := frame.ReadFrame(e.reader, frame.DefaultLimits())
	if err != nil {
		return 0, nil, err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return 0, nil, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return 0, nil, err
	}
	if f.Header.MessageType == schema.MsgAbort {
		return 0, nil, abortError(fields)
	}
	return f.Header.MessageType, fields, nil
}

func abortError(fields []tlv.Field) error {
	codeField, _ := tlv.GetField(fields, schema.FieldAbortCode)
	code, _ := tlv.U32FromBytes(codeField.Value)
	reasonField, _ := tlv.GetField(fields, schema.FieldReason)
	return fmt.Errorf("%w: code=%d reason=%q", ErrGroupAborted, code, string(reasonField.Value))
}

// Barrier blocks until both members have entered the same barrier
// round: each side writes its barrier frame, then blocks reading the
// peer's. Sequence numbers advance in lockstep on both sides.
func (e *Endpoint) Barrier(ctx context.Context) error {
	seq := e.barrierSeq.Add(1)
	out := []tlv.Field{
		{ID: schema.FieldRank, Type: tlv.TypeU32, Value: tlv.PutU32(e.rank)},
		{ID: schema.FieldBarrierSeq, Type: tlv.TypeU64, Value: tlv.PutU64(seq)},
	}
	if err := e.WriteMessage(ctx, schema.MsgBarrier, 0, out); err != nil {
		return err
	}

	messageType, fields, err := e.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if messageType != schema.MsgBarrier {
		return fmt.Errorf("%w: got=%d want=%d", ErrUnexpectedMessage, messageType, schema.MsgBarrier)
	}
	seqField, _ := tlv.GetField(fields, schema.FieldBarrierSeq)
	peerSeq, err := tlv.U64FromBytes(seqField.Value)
	if err != nil {
		return err
	}
	if peerSeq != seq {
		return fmt.Errorf("%w: local=%d peer=%d", ErrBarrierMismatch, seq, peerSeq)
	}
	log.Debug().Uint32("rank", e.rank).Uint64("seq", seq).Msg("barrier complete")
	return nil
}

// Abort notifies the peer that the whole group must stop, then closes
// the endpoint. Best effort: a peer that already went away does not
// mask the abort.
func (e *Endpoint) Abort(ctx context.Context, code uint32, reason string) error {
	fields := []tlv.Field{
		{ID: schema.FieldAbortCode, Type: tlv.TypeU32, Value: tlv.PutU32(code)},
		{ID: schema.FieldReason, Type: tlv.TypeString, Value: []byte(reason)},
	}
	err := e.WriteMessage(ctx, schema.MsgAbort, frame.FlagIsError, fields)
	if err == nil {
		e.drainBeforeClose()
	}
	if closeErr := e.Close(); err == nil {
		err = closeErr
	}
	log.Error().Uint32("rank", e.rank).Uint32("code", code).Str("reason", reason).Msg("group abort")
	return err
}

// drainBeforeClose half-closes the write side and consumes whatever
// the peer has in flight. Closing with unread bytes in the receive
// queue resets the connection, which can destroy the abort frame
// before the peer reads it.
func (e *Endpoint) drainBeforeClose() {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := e.conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
	_ = e.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.Copy(io.Discard, e.reader)
}

func (e *Endpoint) setWriteDeadline(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return e.conn.SetWriteDeadline(deadline)
}

func (e *Endpoint) setReadDeadline(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return e.conn.SetReadDeadline(deadline)
}
