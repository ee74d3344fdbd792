package driver

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/LoveWonYoung/asebacan/tp"
)

// SLCAN (Lawicel) ASCII protocol. A standard data frame is
// "tIIIL" followed by 2*L hex digits and a carriage return.
const (
	slcanEnd  = '\r'
	slcanBell = '\a'

	slcanMaxLine = 32
)

var errSLCANSkip = errors.New("slcan: not a standard data frame")

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// slcanBitrateCommand returns the "Sx" command for bitrate.
func slcanBitrateCommand(bitrate int) ([]byte, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	return []byte{'S', code, slcanEnd}, nil
}

func encodeSLCAN(f tp.Frame) []byte {
	n := f.Len
	if n > tp.MaxFrameData {
		n = tp.MaxFrameData
	}
	out := make([]byte, 0, 6+2*int(n))
	out = append(out, 't')
	out = append(out, fmt.Sprintf("%03X", f.ID&canSffMask)...)
	out = append(out, '0'+n)
	out = append(out, bytes.ToUpper([]byte(hex.EncodeToString(f.Data[:n])))...)
	return append(out, slcanEnd)
}

// decodeSLCAN parses one line without its terminator.
func decodeSLCAN(line []byte) (tp.Frame, error) {
	var f tp.Frame
	if len(line) == 0 {
		return f, errSLCANSkip
	}
	switch line[0] {
	case 't':
	case 'T', 'r', 'R':
		return f, errSLCANSkip
	default:
		return f, fmt.Errorf("slcan: unexpected line %q", line)
	}
	if len(line) < 5 {
		return f, fmt.Errorf("slcan: short frame %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:4]), 16, 16)
	if err != nil {
		return f, fmt.Errorf("slcan: bad identifier %q: %w", line[1:4], err)
	}
	n := int(line[4] - '0')
	if n < 0 || n > tp.MaxFrameData {
		return f, fmt.Errorf("slcan: bad length %q", line[4])
	}
	payload := line[5:]
	if len(payload) < 2*n {
		return f, fmt.Errorf("slcan: frame %q shorter than its length", line)
	}
	data := make([]byte, n)
	if _, err := hex.Decode(data, payload[:2*n]); err != nil {
		return f, fmt.Errorf("slcan: bad payload %q: %w", payload, err)
	}
	return tp.NewFrame(uint16(id), data)
}

// slcanScanner splits the adapter's byte stream into lines. A bell byte is
// the adapter's error reply and becomes a line of its own.
type slcanScanner struct {
	buf []byte
}

func (s *slcanScanner) feed(data []byte, emit func(line []byte)) {
	for _, b := range data {
		switch b {
		case slcanEnd:
			emit(s.buf)
			s.buf = s.buf[:0]
		case slcanBell:
			emit([]byte{slcanBell})
			s.buf = s.buf[:0]
		default:
			if len(s.buf) < slcanMaxLine {
				s.buf = append(s.buf, b)
			}
		}
	}
}
