package firmware

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the first byte of every firmware transfer message.
type MessageType byte

const (
	TypePage   MessageType = 0x50 // 'P': index u16 LE, page bytes
	TypeCommit MessageType = 0x43 // 'C': page count u16 LE, CMAC tag
)

const (
	pageHeaderSize   = 3
	commitHeaderSize = 3
)

var ErrMalformed = errors.New("firmware: malformed message")

// Message is a decoded firmware transfer message.
type Message struct {
	Type  MessageType
	Page  Page   // TypePage
	Count uint16 // TypeCommit
	Tag   []byte // TypeCommit
}

// PageMessageSize returns the encoded length of a page message.
func PageMessageSize(pageSize int) int {
	return pageHeaderSize + pageSize
}

func EncodePage(p Page) []byte {
	out := make([]byte, pageHeaderSize+len(p.Data))
	out[0] = byte(TypePage)
	binary.LittleEndian.PutUint16(out[1:3], p.Index)
	copy(out[pageHeaderSize:], p.Data)
	return out
}

func EncodeCommit(count int, tag []byte) ([]byte, error) {
	if count < 0 || count > 0xFFFF {
		return nil, fmt.Errorf("firmware: page count %d out of range", count)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("firmware: tag must be %d bytes, got %d", TagSize, len(tag))
	}
	out := make([]byte, commitHeaderSize+TagSize)
	out[0] = byte(TypeCommit)
	binary.LittleEndian.PutUint16(out[1:3], uint16(count))
	copy(out[commitHeaderSize:], tag)
	return out, nil
}

// DecodeMessage parses a page or commit message. The returned slices do not
// alias b.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, ErrMalformed
	}
	switch t := MessageType(b[0]); t {
	case TypePage:
		if len(b) <= pageHeaderSize {
			return Message{}, fmt.Errorf("%w: page without data", ErrMalformed)
		}
		return Message{Type: t, Page: Page{
			Index: binary.LittleEndian.Uint16(b[1:3]),
			Data:  append([]byte(nil), b[pageHeaderSize:]...),
		}}, nil
	case TypeCommit:
		if len(b) != commitHeaderSize+TagSize {
			return Message{}, fmt.Errorf("%w: commit length %d", ErrMalformed, len(b))
		}
		return Message{
			Type:  t,
			Count: binary.LittleEndian.Uint16(b[1:3]),
			Tag:   append([]byte(nil), b[commitHeaderSize:]...),
		}, nil
	default:
		return Message{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformed, b[0])
	}
}
