package kfmt

import "io"

// earlyBufferSize bounds the output kept before a console driver attaches.
// Must be a power of 2.
const earlyBufferSize = 4096

// earlyBuffer keeps the most recent earlyBufferSize bytes written to it and
// counts the bytes it had to drop to make room. It never allocates, so it
// can capture output from before the heap exists.
type earlyBuffer struct {
	data    [earlyBufferSize]byte
	head    int
	length  int
	dropped uint64
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
func (b *earlyBuffer) Write(p []byte) (int, error) {
	for _, ch := range p {
		b.data[(b.head+b.length)&(earlyBufferSize-1)] = ch
		if b.length < earlyBufferSize {
			b.length++
			continue
		}
		b.head = (b.head + 1) & (earlyBufferSize - 1)
		b.dropped++
	}
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (b *earlyBuffer) Len() int { return b.length }

// Dropped returns the number of bytes lost since the last reset.
func (b *earlyBuffer) Dropped() uint64 { return b.dropped }

// WriteTo drains the buffer into w, oldest bytes first, using at most two
// writes. Implementing io.WriterTo keeps io.Copy from allocating a scratch
// buffer.
func (b *earlyBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.length > 0 {
		end := b.head + b.length
		if end > earlyBufferSize {
			end = earlyBufferSize
		}

		n, err := w.Write(b.data[b.head:end])
		total += int64(n)
		b.head = (b.head + n) & (earlyBufferSize - 1)
		b.length -= n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	b.reset()
	return total, nil
}

func (b *earlyBuffer) reset() {
	b.head, b.length, b.dropped = 0, 0, 0
}
