// Package channel implements the tagged rendezvous transfer of a
// described matrix region between the two members of a group.
//
// One matched send/receive pair moves the whole region in a single
// frame: the sender gathers the described segments, the receiver
// scatters them back into its own buffer and acknowledges. Positions
// outside the region are never touched on the receiving side.
package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/group"
	"github.com/danmuck/trictl/internal/matrix"
	"github.com/danmuck/trictl/internal/protocol/frame"
	"github.com/danmuck/trictl/internal/protocol/schema"
	"github.com/danmuck/trictl/internal/protocol/tlv"
	"github.com/danmuck/trictl/internal/region"
)

// ErrTransferFailed is the base of the transfer error taxonomy; every
// channel failure matches it via errors.Is.
var ErrTransferFailed = errors.New("channel: transfer failed")

var (
	ErrDimensionMismatch  = fmt.Errorf("%w: matrix dimension does not match descriptor", ErrTransferFailed)
	ErrTagMismatch        = fmt.Errorf("%w: transfer tag mismatch", ErrTransferFailed)
	ErrDescriptorMismatch = fmt.Errorf("%w: peer descriptor shape mismatch", ErrTransferFailed)
	ErrPayloadSize        = fmt.Errorf("%w: region payload size mismatch", ErrTransferFailed)
	ErrUnexpectedMessage  = fmt.Errorf("%w: unexpected message type", ErrTransferFailed)
	ErrAckRejected        = fmt.Errorf("%w: rejected by peer", ErrTransferFailed)
)

// Channel binds transfer operations to one group endpoint.
type Channel struct {
	ep *group.Endpoint
}

func New(ep *group.Endpoint) *Channel {
	return &Channel{ep: ep}
}

// Send blocks until the peer has accepted the described region of m.
// The descriptor's segments travel in order inside a single frame, so
// one call costs one synchronization round-trip regardless of
// dimension. m must stay valid and unmutated until Send returns.
func (c *Channel) Send(ctx context.Context, m *matrix.Matrix, desc region.Descriptor, tag uint32) error {
	if m.Dimension() != desc.Dimension() {
		return fmt.Errorf("%w: matrix=%d descriptor=%d", ErrDimensionMismatch, m.Dimension(), desc.Dimension())
	}

	staging := make([]int32, desc.ElementCount())
	if err := desc.Gather(m.Data(), staging); err != nil {
		return err
	}

	start := time.Now()
	fields := []tlv.Field{
		{ID: schema.FieldTag, Type: tlv.TypeU32, Value: tlv.PutU32(tag)},
		{ID: schema.FieldDimension, Type: tlv.TypeU32, Value: tlv.PutU32(uint32(desc.Dimension()))},
		{ID: schema.FieldSegmentCount, Type: tlv.TypeU32, Value: tlv.PutU32(uint32(desc.SegmentCount()))},
		{ID: schema.FieldElementCount, Type: tlv.TypeU32, Value: tlv.PutU32(uint32(desc.ElementCount()))},
		{ID: schema.FieldRegionData, Type: tlv.TypeBytes, Value: encodeElements(staging)},
	}
	if err := c.ep.WriteMessage(ctx, schema.MsgTransfer, 0, fields); err != nil {
		return err
	}

	messageType, ackFields, err := c.ep.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if messageType != schema.MsgTransferAck {
		return fmt.Errorf("%w: got=%d want=%d", ErrUnexpectedMessage, messageType, schema.MsgTransferAck)
	}
	ackTag, err := fieldU32(ackFields, schema.FieldTag)
	if err != nil {
		return err
	}
	if ackTag != tag {
		return fmt.Errorf("%w: sent=%d acked=%d", ErrTagMismatch, tag, ackTag)
	}
	status, _ := tlv.GetField(ackFields, schema.FieldAckStatus)
	if string(status.Value) != group.AckStatusAccepted {
		return fmt.Errorf("%w: status=%q", ErrAckRejected, string(status.Value))
	}

	log.Debug().
		Uint32("tag", tag).
		Int("elements", desc.ElementCount()).
		Dur("duration", time.Since(start)).
		Msg("region sent")
	return nil
}

// Receive blocks until the peer's region for tag has been written into
// the described positions of m. The frame's descriptor metadata is
// compared against the local descriptor before anything is placed; a
// shape mismatch rejects the transfer instead of corrupting the buffer.
func (c *Channel) Receive(ctx context.Context, m *matrix.Matrix, desc region.Descriptor, tag uint32) error {
	if m.Dimension() != desc.Dimension() {
		return fmt.Errorf("%w: matrix=%d descriptor=%d", ErrDimensionMismatch, m.Dimension(), desc.Dimension())
	}

	messageType, fields, err := c.ep.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if messageType != schema.MsgTransfer {
		return fmt.Errorf("%w: got=%d want=%d", ErrUnexpectedMessage, messageType, schema.MsgTransfer)
	}

	peerTag, err := fieldU32(fields, schema.FieldTag)
	if err != nil {
		return err
	}
	if peerTag != tag {
		err := fmt.Errorf("%w: local=%d peer=%d", ErrTagMismatch, tag, peerTag)
		_ = c.writeAck(ctx, peerTag, 0, group.AckStatusRejected)
		return err
	}

	if err := c.checkShape(fields, desc); err != nil {
		_ = c.writeAck(ctx, peerTag, 0, group.AckStatusRejected)
		return err
	}

	data, _ := tlv.GetField(fields, schema.FieldRegionData)
	staging, err := decodeElements(data.Value, desc.ElementCount())
	if err != nil {
		_ = c.writeAck(ctx, peerTag, 0, group.AckStatusRejected)
		return err
	}
	if err := desc.Scatter(staging, m.Data()); err != nil {
		_ = c.writeAck(ctx, peerTag, 0, group.AckStatusRejected)
		return err
	}

	if err := c.writeAck(ctx, tag, uint32(desc.ElementCount()), group.AckStatusAccepted); err != nil {
		return err
	}
	log.Debug().
		Uint32("tag", tag).
		Int("elements", desc.ElementCount()).
		Msg("region received")
	return nil
}

func (c *Channel) checkShape(fields []tlv.Field, desc region.Descriptor) error {
	dimension, err := fieldU32(fields, schema.FieldDimension)
	if err != nil {
		return err
	}
	segments, err := fieldU32(fields, schema.FieldSegmentCount)
	if err != nil {
		return err
	}
	elements, err := fieldU32(fields, schema.FieldElementCount)
	if err != nil {
		return err
	}
	if int(dimension) != desc.Dimension() ||
		int(segments) != desc.SegmentCount() ||
		int(elements) != desc.ElementCount() {
		return fmt.Errorf("%w: peer={dim=%d segs=%d elems=%d} local={dim=%d segs=%d elems=%d}",
			ErrDescriptorMismatch,
			dimension, segments, elements,
			desc.Dimension(), desc.SegmentCount(), desc.ElementCount())
	}
	return nil
}

func (c *Channel) writeAck(ctx context.Context, tag uint32, elements uint32, status string) error {
	fields := []tlv.Field{
		{ID: schema.FieldTag, Type: tlv.TypeU32, Value: tlv.PutU32(tag)},
		{ID: schema.FieldElementCount, Type: tlv.TypeU32, Value: tlv.PutU32(elements)},
		{ID: schema.FieldAckStatus, Type: tlv.TypeString, Value: []byte(status)},
	}
	return c.ep.WriteMessage(ctx, schema.MsgTransferAck, frame.FlagIsResponse, fields)
}

func fieldU32(fields []tlv.Field, id uint16) (uint32, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("channel: missing field %d", id)
	}
	return tlv.U32FromBytes(f.Value)
}

func encodeElements(elements []int32) []byte {
	out := make([]byte, 4*len(elements))
	for i, v := range elements {
		binary.BigEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func decodeElements(b []byte, count int) ([]int32, error) {
	if len(b) != 4*count {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrPayloadSize, len(b), 4*count)
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
