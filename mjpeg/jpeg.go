package mjpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// JPEG markers used when splitting a baseline JFIF file.
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOF0 = 0xC0
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerSOS  = 0xDA
)

var (
	ErrNotJPEG     = errors.New("invalid JPEG: missing SOI marker")
	ErrUnsupported = errors.New("unsupported JPEG layout for RTP/JPEG")
)

// frame is a baseline JPEG reduced to what RFC 2435 carries: the
// geometry, the quantization tables and the entropy-coded scan.
type frame struct {
	width   int
	height  int
	typ     uint8 // 0 = 4:2:2, 1 = 4:2:0
	qtables []byte
	scan    []byte
}

// parseJPEG walks the marker segments of a baseline JPEG.
func parseJPEG(data []byte) (*frame, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrNotJPEG
	}

	var (
		f      frame
		tables [4][]byte
		sof    bool
	)

	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil, fmt.Errorf("invalid JPEG: expected marker at offset %d", i)
		}
		marker := data[i+1]
		if marker == 0xFF {
			// fill byte
			i++
			continue
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		segStart, segEnd := i+4, i+2+segLen
		if segLen < 2 || segEnd > len(data) {
			return nil, fmt.Errorf("invalid JPEG: truncated segment 0x%02X", marker)
		}
		seg := data[segStart:segEnd]

		switch marker {
		case markerDQT:
			for len(seg) > 0 {
				pq, tq := seg[0]>>4, seg[0]&0x0F
				if pq != 0 || tq > 3 || len(seg) < 65 {
					return nil, fmt.Errorf("%w: 16-bit or malformed quantization table", ErrUnsupported)
				}
				tables[tq] = seg[1:65]
				seg = seg[65:]
			}

		case markerSOF0:
			if len(seg) < 15 || seg[5] != 3 {
				return nil, fmt.Errorf("%w: expected 3 color components", ErrUnsupported)
			}
			f.height = int(binary.BigEndian.Uint16(seg[1:3]))
			f.width = int(binary.BigEndian.Uint16(seg[3:5]))
			switch seg[7] {
			case 0x22:
				f.typ = 1
			case 0x21:
				f.typ = 0
			default:
				return nil, fmt.Errorf("%w: luma sampling 0x%02X", ErrUnsupported, seg[7])
			}
			sof = true

		case markerDRI:
			return nil, fmt.Errorf("%w: restart intervals", ErrUnsupported)

		case markerSOS:
			if !sof {
				return nil, fmt.Errorf("%w: scan before baseline frame header", ErrUnsupported)
			}
			if tables[0] == nil || tables[1] == nil {
				return nil, fmt.Errorf("%w: missing quantization tables", ErrUnsupported)
			}
			scan := data[segEnd:]
			if n := len(scan); n >= 2 && scan[n-2] == 0xFF && scan[n-1] == markerEOI {
				scan = scan[:n-2]
			}
			f.scan = scan
			f.qtables = append(append(make([]byte, 0, 128), tables[0]...), tables[1]...)
			return &f, nil
		}

		i = segEnd
	}

	return nil, fmt.Errorf("invalid JPEG: no scan data")
}
