package protocol

import "fmt"

// Message types.
const (
	MsgHello    uint8 = 0x01
	MsgHelloAck uint8 = 0x81
)

// Ack status codes.
const (
	StatusKnown       uint8 = 0
	StatusUnknownType uint8 = 1
)

const (
	LengthPrefixLen = 4
	ClientIDLen     = 8
	HelloBodyLen    = 1 + ClientIDLen
	HelloAckBodyLen = 1 + ClientIDLen + 1

	// ClientMaxFrame bounds the body a client accepts during the handshake.
	ClientMaxFrame uint32 = 1 << 20
)

// HelloAck is the decoded HELLO_ACK body.
type HelloAck struct {
	ClientID uint64
	Status   uint8
}

// EncodeHello returns a HELLO body for id.
func EncodeHello(id uint64) []byte {
	idb := EncodeUint64(id)
	body := make([]byte, 0, HelloBodyLen)
	body = append(body, MsgHello)
	return append(body, idb[:]...)
}

// EncodeHelloAck returns a HELLO_ACK body.
func EncodeHelloAck(ack HelloAck) []byte {
	idb := EncodeUint64(ack.ClientID)
	body := make([]byte, 0, HelloAckBodyLen)
	body = append(body, MsgHelloAck)
	body = append(body, idb[:]...)
	return append(body, ack.Status)
}

// DecodeHelloAck validates body as a HELLO_ACK echoing expectedID.
func DecodeHelloAck(body []byte, expectedID uint64) (HelloAck, error) {
	if len(body) < HelloAckBodyLen {
		return HelloAck{}, fmt.Errorf("%w: hello_ack body=%d", ErrTruncated, len(body))
	}
	if body[0] != MsgHelloAck {
		return HelloAck{}, fmt.Errorf("%w: got=0x%02x", ErrBadType, body[0])
	}
	echoed := Uint64(body[1:])
	if echoed != expectedID {
		return HelloAck{}, fmt.Errorf("%w: sent=%d echoed=%d", ErrIDMismatch, expectedID, echoed)
	}
	return HelloAck{ClientID: echoed, Status: body[1+ClientIDLen]}, nil
}

// Respond applies the server reply rule to one frame body. Bodies too short to
// carry an id get no reply; that leniency holds for HELLO and unknown types alike.
func Respond(body []byte) (HelloAck, bool) {
	if len(body) < HelloBodyLen {
		return HelloAck{}, false
	}
	status := StatusUnknownType
	if body[0] == MsgHello {
		status = StatusKnown
	}
	return HelloAck{ClientID: Uint64(body[1:]), Status: status}, true
}

// MessageTypeName labels t for logs and metrics.
func MessageTypeName(t uint8) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello_ack"
	default:
		return "unknown"
	}
}
