package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/kvx/lib/value"
)

// ErrInvalidProtocol is returned for a protocol version other than 2 or 3.
var ErrInvalidProtocol = errors.New("resp: invalid protocol version")

// Writer encodes values as RESP2 or RESP3 replies.
//
// RESP2 has no map, set, double or null types, so hashes are sent as flat arrays of
// field/value pairs (sorted by field), sets as arrays and non-integral numbers as bulk strings.
type Writer struct {
	w        *bufio.Writer
	protocol int
}

// NewWriter creates a writer for the given protocol version (2 or 3).
func NewWriter(w io.Writer, protocol int) (*Writer, error) {
	if protocol != 2 && protocol != 3 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProtocol, protocol)
	}
	return &Writer{w: bufio.NewWriter(w), protocol: protocol}, nil
}

// Encode returns the reply for v.
func Encode(v value.Value, protocol int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, protocol)
	if err != nil {
		return nil, err
	}
	if err := w.WriteValue(v); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeError returns the error reply for err.
func EncodeError(err error) []byte {
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, 2)
	_ = w.WriteError(err)
	_ = w.Flush()
	return buf.Bytes()
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// WriteOK writes the simple string OK.
func (w *Writer) WriteOK() error {
	_, err := w.w.WriteString("+OK\r\n")
	return err
}

// WriteError writes an error reply. The first word of the message is used as error code if
// it is upper case (e.g. WRONGTYPE), otherwise the message is prefixed with ERR.
func (w *Writer) WriteError(err error) error {
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())
	if !hasErrorCode(msg) {
		msg = "ERR " + msg
	}
	_, werr := w.w.WriteString("-" + msg + "\r\n")
	return werr
}

// WriteValue writes v.
func (w *Writer) WriteValue(v value.Value) error {
	switch x := value.Normalize(v).(type) {
	case value.Nil:
		return w.writeNull()
	case value.Number:
		return w.writeNumber(float64(x))
	case value.String:
		return w.writeBulk(string(x))
	case *value.Hash:
		return w.writeHash(x)
	case value.Set:
		return w.writeSet(x)
	case value.SortedSet:
		return w.writeSortedSet(x)
	default:
		return fmt.Errorf("%w: %T", value.ErrUnsupportedType, v)
	}
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

func (w *Writer) writeNull() error {
	if w.protocol == 3 {
		_, err := w.w.WriteString("_\r\n")
		return err
	}
	_, err := w.w.WriteString("$-1\r\n")
	return err
}

func (w *Writer) writeNumber(n float64) error {
	if n == math.Trunc(n) && math.Abs(n) < 1<<63 {
		return w.writeHeader(':', int64(n))
	}
	if w.protocol == 3 {
		return w.writeDouble(n)
	}
	return w.writeBulk(value.Number(n).String())
}

func (w *Writer) writeDouble(n float64) error {
	var s string
	switch {
	case math.IsInf(n, 1):
		s = "inf"
	case math.IsInf(n, -1):
		s = "-inf"
	case math.IsNaN(n):
		s = "nan"
	default:
		s = strconv.FormatFloat(n, 'g', -1, 64)
	}
	_, err := w.w.WriteString("," + s + "\r\n")
	return err
}

func (w *Writer) writeBulk(s string) error {
	if err := w.writeHeader('$', int64(len(s))); err != nil {
		return err
	}
	if _, err := w.w.WriteString(s); err != nil {
		return err
	}
	_, err := w.w.WriteString("\r\n")
	return err
}

func (w *Writer) writeHash(h *value.Hash) error {
	fields := h.Fields()
	values := h.Get(fields...)
	var err error
	if w.protocol == 3 {
		err = w.writeHeader('%', int64(len(fields)))
	} else {
		err = w.writeHeader('*', int64(2*len(fields)))
	}
	if err != nil {
		return err
	}
	for _, field := range fields {
		if err := w.writeBulk(field); err != nil {
			return err
		}
		if err := w.WriteValue(values[field]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeSet(s value.Set) error {
	prefix := byte('*')
	if w.protocol == 3 {
		prefix = '~'
	}
	if err := w.writeHeader(prefix, int64(len(s))); err != nil {
		return err
	}
	for _, m := range s {
		if err := w.WriteValue(m); err != nil {
			return err
		}
	}
	return nil
}

// writeSortedSet writes member/score pairs: nested arrays in RESP3, a flat array in RESP2
func (w *Writer) writeSortedSet(z value.SortedSet) error {
	if w.protocol == 2 {
		if err := w.writeHeader('*', int64(2*len(z))); err != nil {
			return err
		}
		for _, m := range z {
			if err := w.WriteValue(m.Member); err != nil {
				return err
			}
			if err := w.writeBulk(value.Number(m.Score).String()); err != nil {
				return err
			}
		}
		return nil
	}

	if err := w.writeHeader('*', int64(len(z))); err != nil {
		return err
	}
	for _, m := range z {
		if err := w.writeHeader('*', 2); err != nil {
			return err
		}
		if err := w.WriteValue(m.Member); err != nil {
			return err
		}
		if err := w.writeDouble(m.Score); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeHeader(prefix byte, n int64) error {
	if err := w.w.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.w.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	_, err := w.w.WriteString("\r\n")
	return err
}

// hasErrorCode reports whether msg starts with an upper case word like WRONGTYPE
func hasErrorCode(msg string) bool {
	code, _, found := strings.Cut(msg, " ")
	if !found || code == "" {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
