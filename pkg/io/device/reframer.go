package device

import (
	"github.com/smallnest/ringbuffer"

	"github.com/xpanvictor/edmolink/pkg/protocol"
)

const frameBufSize = 4096

// reframer recovers frames from an unframed byte stream. Outside a frame it
// holds at most one byte of lookback; a header at the tail starts a frame,
// a footer at the tail completes one. Garbage between frames is discarded
// a byte at a time, so the stream resynchronizes on the next header.
type reframer struct {
	rb      *ringbuffer.RingBuffer
	inFrame bool
	last    byte
	hasLast bool
	emit    func(payload []byte)
}

func newReframer(emit func([]byte)) *reframer {
	return &reframer{
		rb:   ringbuffer.New(frameBufSize).SetBlocking(false),
		emit: emit,
	}
}

func (r *reframer) feed(chunk []byte) {
	for _, b := range chunk {
		r.feedByte(b)
	}
}

func (r *reframer) feedByte(b byte) {
	if r.hasLast && r.last == 'E' && b == 'D' {
		// header at the tail; everything before it was noise or a frame
		// that never completed
		r.rb.Reset()
		r.inFrame = true
		r.hasLast = false
		return
	}

	if !r.inFrame {
		r.last = b
		r.hasLast = true
		return
	}

	if r.hasLast && r.last == 'M' && b == 'O' {
		r.completeFrame()
		return
	}

	if r.hasLast {
		if r.rb.Free() == 0 {
			// oversized frame; drop it and resync
			r.rb.Reset()
			r.inFrame = false
			r.hasLast = false
			return
		}
		r.rb.Write([]byte{r.last})
	}
	r.last = b
	r.hasLast = true
}

// completeFrame takes everything buffered before the footer as the escaped
// payload.
func (r *reframer) completeFrame() {
	n := r.rb.Length()
	escaped := make([]byte, n)
	r.rb.Bytes(escaped)
	r.rb.Reset()
	r.inFrame = false
	r.hasLast = false

	payload := protocol.Unescape(escaped)
	if len(payload) > 0 {
		r.emit(payload)
	}
}
