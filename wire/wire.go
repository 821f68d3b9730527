// Package wire implements the gateway wire format: JSON frames shaped
// {op, d, s, t}, optionally zlib-compressed, and the payload structures
// exchanged during the connection handshake.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// A Frame is a single gateway message. Inbound dispatch frames (Op ==
// OpDispatch) carry an event name in T and a sequence number in S; all other
// fields of non-dispatch frames except D are zero.
type Frame struct {
	Op Op              `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Op is a gateway operation code.
type Op int

// Gateway opcodes. Values are fixed by the protocol.
const (
	OpDispatch            Op = 0  // an event, with sequence number and name
	OpHeartbeat           Op = 1  // client keepalive; server may also request one
	OpIdentify            Op = 2  // start a fresh session
	OpStatusUpdate        Op = 3  // update the client's presence
	OpVoiceStateUpdate    Op = 4  // join/leave/move voice channels
	OpResume              Op = 6  // resume a prior session
	OpReconnect           Op = 7  // server asks the client to reconnect
	OpRequestGuildMembers Op = 8  // ask for member chunks for a guild
	OpInvalidSession      Op = 9  // session is not resumable (usually)
	OpHello               Op = 10 // first frame after connect; heartbeat interval
	OpHeartbeatACK        Op = 11 // server acknowledgement of a heartbeat
)

func (o Op) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpStatusUpdate:
		return "STATUS_UPDATE"
	case OpVoiceStateUpdate:
		return "VOICE_STATE_UPDATE"
	case OpResume:
		return "RESUME"
	case OpReconnect:
		return "RECONNECT"
	case OpRequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatACK:
		return "HEARTBEAT_ACK"
	default:
		return fmt.Sprintf("OP:%d", int(o))
	}
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	if f.Op == OpDispatch {
		return fmt.Sprintf("Frame(%v, t=%s, s=%d, [%d bytes])", f.Op, f.T, f.S, len(f.D))
	}
	return fmt.Sprintf("Frame(%v, [%d bytes])", f.Op, len(f.D))
}

// DecodeFrame parses data into a frame. If binary is true, data is a
// zlib-compressed blob and is inflated before parsing; otherwise it is plain
// JSON text.
func DecodeFrame(binary bool, data []byte) (*Frame, error) {
	if binary {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("wire: inflate frame: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("wire: inflate frame: %w", err)
		}
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: invalid frame: %w", err)
	}
	return &f, nil
}

// EncodeFrame encodes a frame with the given opcode and payload as JSON text.
// It panics if the payload cannot be marshaled, which indicates a programming
// error in the caller.
func EncodeFrame(op Op, payload any) []byte {
	d, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Errorf("wire: encoding %v payload: %w", op, err))
	}
	data, err := json.Marshal(Frame{Op: op, D: d})
	if err != nil {
		panic(fmt.Errorf("wire: encoding %v frame: %w", op, err))
	}
	return data
}

// DeflateFrame compresses an encoded frame with zlib. It is the inverse of
// the binary case of DecodeFrame, used by tests and local fixtures.
func DeflateFrame(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		panic(fmt.Errorf("wire: deflate frame: %w", err))
	}
	if err := zw.Close(); err != nil {
		panic(fmt.Errorf("wire: deflate frame: %w", err))
	}
	return buf.Bytes()
}
