package kfmt

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// shortWriter accepts at most limit bytes per call.
type shortWriter struct {
	limit int
	buf   bytes.Buffer
	err   error
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	w.buf.Write(p)
	return len(p), w.err
}

func TestEarlyBuffer(t *testing.T) {
	specs := []struct {
		descr      string
		writes     []string
		expOutput  string
		expDropped uint64
	}{
		{
			descr:     "empty",
			expOutput: "",
		},
		{
			descr:     "several writes",
			writes:    []string{"[kmain] ", "hart 0", "\n"},
			expOutput: "[kmain] hart 0\n",
		},
		{
			descr:     "exactly full",
			writes:    []string{strings.Repeat("a", earlyBufferSize)},
			expOutput: strings.Repeat("a", earlyBufferSize),
		},
		{
			descr:      "overflow keeps the most recent bytes",
			writes:     []string{strings.Repeat("a", earlyBufferSize), "bcd"},
			expOutput:  strings.Repeat("a", earlyBufferSize-3) + "bcd",
			expDropped: 3,
		},
		{
			descr:      "overflow in a single write",
			writes:     []string{"xyz" + strings.Repeat("q", earlyBufferSize)},
			expOutput:  strings.Repeat("q", earlyBufferSize),
			expDropped: 3,
		},
	}

	for specIndex, spec := range specs {
		var (
			b   earlyBuffer
			out bytes.Buffer
		)
		for _, w := range spec.writes {
			if n, _ := b.Write([]byte(w)); n != len(w) {
				t.Errorf("[spec %d] %s: expected Write to report %d bytes; got %d", specIndex, spec.descr, len(w), n)
			}
		}

		if got := b.Dropped(); got != spec.expDropped {
			t.Errorf("[spec %d] %s: expected %d dropped bytes; got %d", specIndex, spec.descr, spec.expDropped, got)
		}

		n, err := b.WriteTo(&out)
		if err != nil {
			t.Fatalf("[spec %d] %s: unexpected error: %v", specIndex, spec.descr, err)
		}
		if got := out.String(); got != spec.expOutput {
			t.Errorf("[spec %d] %s: expected output of %d bytes; got %d bytes", specIndex, spec.descr, len(spec.expOutput), len(got))
		}
		if n != int64(len(spec.expOutput)) {
			t.Errorf("[spec %d] %s: expected WriteTo to report %d bytes; got %d", specIndex, spec.descr, len(spec.expOutput), n)
		}
		if b.Len() != 0 || b.Dropped() != 0 {
			t.Errorf("[spec %d] %s: expected buffer to be reset after draining", specIndex, spec.descr)
		}
	}
}

func TestEarlyBufferShortWrites(t *testing.T) {
	t.Run("partial writes are resumed", func(t *testing.T) {
		var b earlyBuffer
		b.Write([]byte("boot table released"))

		w := &shortWriter{limit: 4}
		if _, err := b.WriteTo(w); err != nil {
			t.Fatal(err)
		}
		if got := w.buf.String(); got != "boot table released" {
			t.Fatalf("unexpected output %q", got)
		}
	})

	t.Run("error keeps the unwritten tail", func(t *testing.T) {
		var b earlyBuffer
		b.Write([]byte("0123456789"))

		expErr := errors.New("console gone")
		w := &shortWriter{limit: 4, err: expErr}
		n, err := b.WriteTo(w)
		if err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}
		if n != 4 || b.Len() != 6 {
			t.Fatalf("expected 4 bytes written and 6 buffered; got %d and %d", n, b.Len())
		}
	})

	t.Run("zero length write", func(t *testing.T) {
		var b earlyBuffer
		b.Write([]byte("x"))

		if _, err := b.WriteTo(&shortWriter{limit: 0}); err != io.ErrShortWrite {
			t.Fatalf("expected io.ErrShortWrite; got %v", err)
		}
	})
}
