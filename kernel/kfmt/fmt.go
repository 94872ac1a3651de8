package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	hexDigits       = "0123456789abcdef"

	numFmtBuf [maxBufSize + 1]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output before a console driver is
	// attached.
	earlyPrintBuffer earlyBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and flushes
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	dropped := earlyPrintBuffer.Dropped()
	earlyPrintBuffer.WriteTo(w)
	if dropped != 0 {
		Fprintf(w, "[kfmt] %d bytes of early output were lost\n", dropped)
	}
}

// GetOutputSink returns the current target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// activeSink forwards writes to the current output sink.
type activeSink struct{}

func (activeSink) Write(p []byte) (int, error) {
	doWrite(outputSink, p)
	return len(p), nil
}

// ActiveSink returns an io.Writer that always targets the sink used by
// Printf, including the early ring buffer while no sink is attached.
func ActiveSink() io.Writer {
	return activeSink{}
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go allocator is available. It never allocates.
//
// Supported verbs:
//
//	%s the uninterpreted bytes of a string or byte slice
//	%c a single byte or rune (runes are truncated to their low byte)
//	%o, %d, %x integers in base 8, 10 and 16 (lower-case)
//	%t "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Arguments are never checked for io.Stringer and pointers (%p) are not
// supported since that would pull in reflect and with it the allocator.
//
// Output goes to the sink registered with SetOutputSink or, until one is
// registered, to a ring buffer that is flushed into the first sink.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		padLen   int
		i        int
	)

	for i < len(format) {
		if format[i] != '%' {
			writeByte(w, format[i])
			i++
			continue
		}

		padLen = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = padLen*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		i++

		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 's', 'c', 'o', 'd', 'x', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		fmtArg(w, verb, args[argIndex], padLen)
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtArg dispatches a single argument to the formatter for verb.
func fmtArg(w io.Writer, verb byte, arg interface{}, padLen int) {
	switch verb {
	case 's':
		fmtString(w, arg, padLen)
	case 'c':
		fmtChar(w, arg)
	case 't':
		fmtBool(w, arg)
	case 'o':
		fmtInt(w, arg, 8, padLen)
	case 'd':
		fmtInt(w, arg, 10, padLen)
	case 'x':
		fmtInt(w, arg, 16, padLen)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtChar(w io.Writer, v interface{}) {
	switch ch := v.(type) {
	case byte:
		writeByte(w, ch)
	case rune:
		writeByte(w, byte(ch))
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtString prints a string or []byte value, applying the padding specified
// by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(s))
		// converting the string to a byte slice triggers a memory
		// allocation so it is written one byte at a time.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints v in the requested base applying the padding specified by
// padLen. Digits are produced right-to-left into numFmtBuf so no reversal is
// needed.
func fmtInt(w io.Writer, v interface{}, base uint64, padLen int) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = absInt(int64(n))
	case int16:
		uval, neg = absInt(int64(n))
	case int32:
		uval, neg = absInt(int64(n))
	case int64:
		uval, neg = absInt(n)
	case int:
		uval, neg = absInt(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	end := len(numFmtBuf)
	start := end
	for {
		start--
		numFmtBuf[start] = hexDigits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	// A space-padded negative number carries its sign next to the digits;
	// a zero-padded one carries it in front of the padding.
	if neg && padCh == ' ' {
		start--
		numFmtBuf[start] = '-'
	}

	for end-start < padLen {
		start--
		numFmtBuf[start] = padCh
	}

	if neg && padCh == '0' {
		start--
		numFmtBuf[start] = '-'
	}

	doWrite(w, numFmtBuf[start:end])
}

func absInt(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without it the compiler cannot prove that p
// does not escape through the io.Writer interface and every Printf call
// would allocate.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
