package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/protocol/tlv"
)

// Message type IDs from the wire contract. The join handshake runs as
// a JSON control exchange before framing starts, so it has no frame
// message type.
const (
	MsgBarrier     uint32 = 3
	MsgTransfer    uint32 = 4
	MsgTransferAck uint32 = 5
	MsgAbort       uint32 = 6
)

// Field IDs from the wire contract.
const (
	FieldRank uint16 = 1

	FieldBarrierSeq uint16 = 50

	FieldTag          uint16 = 100
	FieldDimension    uint16 = 101
	FieldSegmentCount uint16 = 102
	FieldElementCount uint16 = 103
	FieldRegionData   uint16 = 104

	FieldAckStatus uint16 = 200

	FieldAbortCode uint16 = 300
	FieldReason    uint16 = 301
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgBarrier: {
		{FieldRank, tlv.TypeU32},
		{FieldBarrierSeq, tlv.TypeU64},
	},
	MsgTransfer: {
		{FieldTag, tlv.TypeU32},
		{FieldDimension, tlv.TypeU32},
		{FieldSegmentCount, tlv.TypeU32},
		{FieldElementCount, tlv.TypeU32},
		{FieldRegionData, tlv.TypeBytes},
	},
	MsgTransferAck: {
		{FieldTag, tlv.TypeU32},
		{FieldElementCount, tlv.TypeU32},
		{FieldAckStatus, tlv.TypeString},
	},
	MsgAbort: {
		{FieldAbortCode, tlv.TypeU32},
		{FieldReason, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored by design.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
