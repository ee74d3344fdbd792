package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marcinbor85/gohex"
)

var ErrEmptyImage = errors.New("firmware: image has no data")

// Segment is a contiguous run of bytes from the HEX file.
type Segment struct {
	Address uint32
	Data    []byte
}

// Image is a parsed Intel HEX file.
type Image struct {
	Segments []Segment
	Entry    uint32
	HasEntry bool
}

// Page is one fixed-size block of the image, addressed by Index*size.
type Page struct {
	Index uint16
	Data  []byte
}

// Load parses an Intel HEX stream.
func Load(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("firmware: parse hex: %w", err)
	}

	img := &Image{}
	for _, s := range mem.GetDataSegments() {
		if len(s.Data) == 0 {
			continue
		}
		img.Segments = append(img.Segments, Segment{Address: s.Address, Data: append([]byte(nil), s.Data...)})
	}
	if len(img.Segments) == 0 {
		return nil, ErrEmptyImage
	}
	sort.Slice(img.Segments, func(i, j int) bool {
		return img.Segments[i].Address < img.Segments[j].Address
	})
	img.Entry, img.HasEntry = mem.GetStartAddress()
	return img, nil
}

func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Size returns the number of bytes actually present in the file.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Pages splits the image into pageSize blocks. Only pages touched by at
// least one segment are returned, in address order; bytes the file does not
// define are set to fill.
func (img *Image) Pages(pageSize int, fill byte) ([]Page, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("firmware: invalid page size %d", pageSize)
	}
	size := uint64(pageSize)

	pages := make(map[uint64][]byte)
	var order []uint64
	for _, s := range img.Segments {
		for off := 0; off < len(s.Data); {
			addr := uint64(s.Address) + uint64(off)
			idx := addr / size
			if idx > 0xFFFF {
				return nil, fmt.Errorf("firmware: address 0x%x beyond page %d", addr, 0xFFFF)
			}
			buf, ok := pages[idx]
			if !ok {
				buf = make([]byte, pageSize)
				for i := range buf {
					buf[i] = fill
				}
				pages[idx] = buf
				order = append(order, idx)
			}
			start := int(addr - idx*size)
			n := copy(buf[start:], s.Data[off:])
			off += n
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Page, 0, len(order))
	for _, idx := range order {
		out = append(out, Page{Index: uint16(idx), Data: pages[idx]})
	}
	return out, nil
}
