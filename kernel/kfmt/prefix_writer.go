package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter tags every line written to Sink with Prefix. hal uses it to
// label driver output with the driver name and version.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	// midLine is set while the last byte forwarded to Sink was not a
	// newline.
	midLine bool
}

// Write forwards p to Sink one line at a time, emitting Prefix before the
// first byte of each line. The returned count excludes prefix bytes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		line := p
		if i := bytes.IndexByte(p, '\n'); i >= 0 {
			line = p[:i+1]
		}

		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}
		if line[len(line)-1] == '\n' {
			w.midLine = false
		}
		p = p[len(line):]
	}
	return written, nil
}
