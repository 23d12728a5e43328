package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/trictl/internal/group"
	"github.com/danmuck/trictl/internal/matrix"
	"github.com/danmuck/trictl/internal/region"
	"github.com/danmuck/trictl/internal/testutil/testlog"
)

func testOptions(addr string, identity string) group.Options {
	cfg := group.DefaultConfig()
	cfg.AcceptTimeout = 5 * time.Second
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.Jitter = false
	return group.Options{
		Address:            addr,
		Identity:           identity,
		Session:            cfg,
		MaxConnectAttempts: 5,
	}
}

func startPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	listener, err := group.NewListener(ctx, testOptions("127.0.0.1:0", "proc-0"))
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	type acceptResult struct {
		ep  *group.Endpoint
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		ep, err := listener.Accept(ctx)
		accepted <- acceptResult{ep: ep, err: err}
	}()

	dialed, err := group.Dial(ctx, testOptions(listener.Addr(), "proc-1"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = dialed.Close() })

	res := <-accepted
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}
	t.Cleanup(func() { _ = res.ep.Close() })
	return New(res.ep), New(dialed)
}

func TestUpperTriangleRoundTrip(t *testing.T) {
	testlog.Start(t)
	sender, receiver := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 4
	const tag = 1234
	desc := region.Build(n)
	src := matrix.NewSequential(n)
	dst := matrix.NewZero(n)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sender.Send(ctx, src, desc, tag)
	}()
	if err := receiver.Receive(ctx, dst, desc, tag); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("send: %v", err)
	}

	want := [][]int32{
		{0, 1, 2, 3},
		{0, 5, 6, 7},
		{0, 0, 10, 11},
		{0, 0, 0, 15},
	}
	for r := 0; r < n; r++ {
		for col := 0; col < n; col++ {
			got, err := dst.At(r, col)
			if err != nil {
				t.Fatalf("at(%d,%d): %v", r, col, err)
			}
			if got != want[r][col] {
				t.Fatalf("dst[%d][%d] = %d, want %d", r, col, got, want[r][col])
			}
		}
	}
}

func TestSingleElementTransfer(t *testing.T) {
	testlog.Start(t)
	sender, receiver := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	desc := region.Build(1)
	src := matrix.NewSequential(1)
	dst := matrix.NewZero(1)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sender.Send(ctx, src, desc, 7)
	}()
	if err := receiver.Receive(ctx, dst, desc, 7); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := dst.At(0, 0)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if got != 0 {
		t.Fatalf("dst[0][0] = %d, want 0", got)
	}
}

func TestTagMismatchRejectsTransfer(t *testing.T) {
	testlog.Start(t)
	sender, receiver := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 4
	desc := region.Build(n)
	src := matrix.NewSequential(n)
	dst := matrix.NewZero(n)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sender.Send(ctx, src, desc, 1)
	}()
	err := receiver.Receive(ctx, dst, desc, 2)
	if !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("tag mismatch should match ErrTransferFailed, got %v", err)
	}
	if err := <-sendErr; !errors.Is(err, ErrAckRejected) {
		t.Fatalf("expected ErrAckRejected, got %v", err)
	}
	for i, v := range dst.Data() {
		if v != 0 {
			t.Fatalf("dst[%d] = %d after rejected transfer, want 0", i, v)
		}
	}
}

func TestDescriptorMismatchRejectsTransfer(t *testing.T) {
	testlog.Start(t)
	sender, receiver := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const tag = 42
	src := matrix.NewSequential(4)
	dst := matrix.NewZero(5)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sender.Send(ctx, src, region.Build(4), tag)
	}()
	if err := receiver.Receive(ctx, dst, region.Build(5), tag); !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("expected ErrDescriptorMismatch, got %v", err)
	}
	if err := <-sendErr; !errors.Is(err, ErrAckRejected) {
		t.Fatalf("expected ErrAckRejected, got %v", err)
	}
}

func TestDimensionMismatchFailsLocally(t *testing.T) {
	testlog.Start(t)
	sender, _ := startPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sender.Send(ctx, matrix.NewSequential(3), region.Build(4), 1)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
