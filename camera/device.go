package camera

import "image"

// Device is a source of raw frames. Implementations need not be safe for
// concurrent use; the capture loop is the only caller.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// FrameSink receives every encoded frame after it is cached. Feed must not
// block the capture loop for long.
type FrameSink interface {
	Feed(frame []byte)
}
