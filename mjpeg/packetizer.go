// Package mjpeg mirrors the captured frames as RTP/JPEG (RFC 2435) over UDP.
package mjpeg

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

const (
	PayloadTypeJPEG = 26
	ClockRate       = 90000
	DefaultMTU      = 1400

	rtpHeaderSize   = 12
	jpegHeaderSize  = 8
	quantHeaderSize = 4
	// Q values of 128 and above mean the tables travel in-band.
	dynamicQ = 255
)

// Packetizer splits JPEG frames into RTP packets.
type Packetizer struct {
	mu         sync.Mutex
	ssrc       uint32
	mtu        int
	sequence   uint16
	packets    uint64
	frames     uint64
	payloadLen uint64
}

// NewPacketizer creates a packetizer for one RTP stream
func NewPacketizer(ssrc uint32, mtu int) *Packetizer {
	if mtu <= rtpHeaderSize+jpegHeaderSize+quantHeaderSize+128 {
		mtu = DefaultMTU
	}
	return &Packetizer{ssrc: ssrc, mtu: mtu}
}

// Packetize returns the marshalled RTP packets for one frame. All packets
// share timestamp; the last one carries the marker bit.
func (p *Packetizer) Packetize(data []byte, timestamp uint32) ([][]byte, error) {
	f, err := parseJPEG(data)
	if err != nil {
		return nil, err
	}
	if f.width > 2040 || f.height > 2040 || f.width%8 != 0 || f.height%8 != 0 {
		return nil, fmt.Errorf("%w: %dx%d cannot be expressed in 8px blocks", ErrUnsupported, f.width, f.height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	maxPayload := p.mtu - rtpHeaderSize
	var packets [][]byte

	for offset := 0; offset < len(f.scan); {
		payload := make([]byte, 0, maxPayload)
		payload = appendJPEGHeader(payload, offset, f)
		if offset == 0 {
			payload = append(payload, 0, 0)
			payload = binary.BigEndian.AppendUint16(payload, uint16(len(f.qtables)))
			payload = append(payload, f.qtables...)
		}

		n := maxPayload - len(payload)
		if rest := len(f.scan) - offset; n > rest {
			n = rest
		}
		payload = append(payload, f.scan[offset:offset+n]...)
		offset += n

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         offset == len(f.scan),
				PayloadType:    PayloadTypeJPEG,
				SequenceNumber: p.sequence,
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
		}

		packets = append(packets, raw)
		p.sequence++
	}

	p.packets += uint64(len(packets))
	p.frames++
	p.payloadLen += uint64(len(data))
	return packets, nil
}

// appendJPEGHeader writes the 8-byte RFC 2435 main header.
func appendJPEGHeader(b []byte, offset int, f *frame) []byte {
	return append(b,
		0, // type-specific
		byte(offset>>16), byte(offset>>8), byte(offset),
		f.typ,
		dynamicQ,
		byte(f.width/8),
		byte(f.height/8),
	)
}

// Stats holds packetizer counters
type Stats struct {
	Packets  uint64
	Frames   uint64
	Bytes    uint64
	Sequence uint16
}

// Stats returns the counters so far
func (p *Packetizer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Packets: p.packets, Frames: p.frames, Bytes: p.payloadLen, Sequence: p.sequence}
}

// FrameTimestamp returns the RTP timestamp of frame n at fps.
func FrameTimestamp(n uint64, fps int) uint32 {
	if fps <= 0 {
		fps = 1
	}
	return uint32(n * uint64(ClockRate/fps))
}
