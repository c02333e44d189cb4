package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/swiftwire/internal/protocol"
)

// DefaultMaxFrame is the body ceiling used when none is configured.
const DefaultMaxFrame uint32 = 1 << 20

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrame uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// ValidateLength rejects a declared body length outside 1..maxFrame.
func ValidateLength(length, maxFrame uint32) error {
	if length == 0 {
		return fmt.Errorf("%w: length=0", protocol.ErrBadLength)
	}
	if length > maxFrame {
		return fmt.Errorf("%w: length=%d max=%d", protocol.ErrBadLength, length, maxFrame)
	}
	return nil
}

// ReadLength reads and validates one length prefix.
func ReadLength(r io.Reader, maxFrame uint32) (uint32, error) {
	var prefix [protocol.LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	length := protocol.Uint32(prefix[:])
	if err := ValidateLength(length, maxFrame); err != nil {
		return 0, err
	}
	return length, nil
}

// ReadBody reads exactly length body bytes.
func ReadBody(r io.Reader, length uint32) ([]byte, error) {
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// ReadFrame reads one length-prefixed frame and returns its body.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	length, err := ReadLength(r, limits.MaxFrame)
	if err != nil {
		return nil, err
	}
	return ReadBody(r, length)
}

// Encode returns prefix and body as one contiguous buffer so a frame is always
// written as a single unit.
func Encode(body []byte) []byte {
	prefix := protocol.EncodeUint32(uint32(len(body)))
	buf := make([]byte, 0, len(prefix)+len(body))
	buf = append(buf, prefix[:]...)
	buf = append(buf, body...)
	return buf
}

func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	if uint64(len(body)) > uint64(limits.MaxFrame) {
		return fmt.Errorf("%w: length=%d max=%d", protocol.ErrBadLength, len(body), limits.MaxFrame)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: length=0", protocol.ErrBadLength)
	}
	_, err := w.Write(Encode(body))
	return err
}
