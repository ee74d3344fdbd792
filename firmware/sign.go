package firmware

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/chmike/cmac-go"
)

// TagSize is the length of an AES-CMAC tag.
const TagSize = 16

func mac(key []byte, chunks ...[]byte) ([]byte, error) {
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("firmware: cmac: %w", err)
	}
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil), nil
}

// Sign computes the AES-CMAC tag over the pages, each prefixed with its
// little-endian index. key must be 16, 24 or 32 bytes.
func Sign(key []byte, pages []Page) ([]byte, error) {
	chunks := make([][]byte, 0, 2*len(pages))
	for _, p := range pages {
		var idx [2]byte
		binary.LittleEndian.PutUint16(idx[:], p.Index)
		chunks = append(chunks, idx[:], p.Data)
	}
	return mac(key, chunks...)
}

// Verify reports whether tag matches the pages.
func Verify(key []byte, pages []Page, tag []byte) (bool, error) {
	want, err := Sign(key, pages)
	if err != nil {
		return false, err
	}
	return cmac.Equal(want, tag), nil
}
