package group

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeJoin    = "group.join"
	controlTypeJoinAck = "group.join.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidJoin            = errors.New("group: invalid join request")
	ErrInvalidJoinAck         = errors.New("group: invalid join ack")
	ErrControlMessageTooLarge = errors.New("group: control message too large")
)

// JoinRequest is the dialer->listener handshake payload.
type JoinRequest struct {
	Identity string `json:"identity"`
}

func (r JoinRequest) Validate() error {
	if strings.TrimSpace(r.Identity) == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidJoin)
	}
	return nil
}

// JoinAck is the listener->dialer handshake response carrying the
// assigned rank and the resulting group size.
type JoinAck struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code"`
	Message     string `json:"message"`
	Rank        uint32 `json:"rank"`
	GroupSize   uint32 `json:"group_size"`
	Identity    string `json:"identity"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a JoinAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidJoinAck)
	}
	if strings.TrimSpace(a.Identity) == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidJoinAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidJoinAck)
	}
	return nil
}

type controlEnvelope struct {
	Type string       `json:"type"`
	Join *JoinRequest `json:"join,omitempty"`
	Ack  *JoinAck     `json:"join_ack,omitempty"`
}

func WriteJoinRequest(w io.Writer, req JoinRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type: controlTypeJoin,
		Join: &req,
	})
}

func ReadJoinRequest(r *bufio.Reader) (JoinRequest, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return JoinRequest{}, err
	}
	if env.Type != controlTypeJoin || env.Join == nil {
		return JoinRequest{}, fmt.Errorf("%w: unexpected control type", ErrInvalidJoin)
	}
	if err := env.Join.Validate(); err != nil {
		return JoinRequest{}, err
	}
	return *env.Join, nil
}

func WriteJoinAck(w io.Writer, ack JoinAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type: controlTypeJoinAck,
		Ack:  &ack,
	})
}

func ReadJoinAck(r *bufio.Reader) (JoinAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return JoinAck{}, err
	}
	if env.Type != controlTypeJoinAck || env.Ack == nil {
		return JoinAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidJoinAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return JoinAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return controlEnvelope{}, err
	}
	if len(line) > 64*1024 {
		return controlEnvelope{}, ErrControlMessageTooLarge
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
