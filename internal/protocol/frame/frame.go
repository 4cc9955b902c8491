package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/danmuck/wsframe/internal/protocol"
)

// HeaderLen is the size of the big-endian title length prefix.
const HeaderLen = 4

// Message is one decoded application message.
type Message struct {
	Title   string
	Payload []byte
}

// EncodedLen returns the frame size for a title and payload length.
func EncodedLen(title string, payloadLen int) int {
	return HeaderLen + len(title) + payloadLen
}

// Encode builds `uint32 titleLen | title | payload`.
func Encode(title string, payload []byte) ([]byte, error) {
	if !utf8.ValidString(title) {
		return nil, fmt.Errorf("%w: %w", protocol.ErrEncoding, protocol.ErrInvalidUTF8)
	}
	if uint64(len(title)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: title length %d exceeds uint32", protocol.ErrEncoding, len(title))
	}

	buf := make([]byte, EncodedLen(title, len(payload)))
	binary.BigEndian.PutUint32(buf[0:HeaderLen], uint32(len(title)))
	n := copy(buf[HeaderLen:], title)
	copy(buf[HeaderLen+n:], payload)
	return buf, nil
}

// Decode parses one frame. Title and payload never alias data.
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderLen {
		return Message{}, fmt.Errorf("%w: %w: %d bytes, need %d", protocol.ErrDecoding, protocol.ErrTruncated, len(data), HeaderLen)
	}
	titleLen := uint64(binary.BigEndian.Uint32(data[0:HeaderLen]))
	rest := data[HeaderLen:]
	if titleLen > uint64(len(rest)) {
		return Message{}, fmt.Errorf("%w: %w: title length %d, %d bytes remain", protocol.ErrDecoding, protocol.ErrTruncated, titleLen, len(rest))
	}
	titleBytes := rest[:titleLen]
	if !utf8.Valid(titleBytes) {
		return Message{}, fmt.Errorf("%w: %w", protocol.ErrDecoding, protocol.ErrInvalidUTF8)
	}

	payload := make([]byte, len(rest)-int(titleLen))
	copy(payload, rest[titleLen:])
	return Message{
		Title:   string(titleBytes),
		Payload: payload,
	}, nil
}
