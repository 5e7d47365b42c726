// Package wire implements the IO Catcher request protocol: a single-pass
// binary codec plus the fixed-layout message structures it drives.
package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// MarshalError mirrors the flat string-error idiom used across this stack's
// binary codecs.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	// ErrOverflow is returned whenever an apply step would read or write
	// past the end of the serializer's buffer.
	ErrOverflow MarshalError = "wire: operation would overflow buffer"

	// ErrTruncatedString is returned when a string field is missing its
	// trailing NUL terminator on unpack.
	ErrTruncatedString MarshalError = "wire: string missing NUL terminator"

	// ErrShortFragment is returned by Response fragment packing when a
	// fragment slice is empty.
	ErrShortFragment MarshalError = "wire: empty response fragment"
)

// Action selects what a Serializer does as it walks a composite type's
// Apply method: Pack/Unpack move bytes, Size only advances the cursor, and
// Stringify renders "field: value" pairs for debug logs.
type Action int

const (
	ActionPack Action = iota
	ActionUnpack
	ActionSize
	ActionStringify
)

// Applier is implemented by every wire message. Apply must call the
// serializer's primitives in the same fixed order regardless of action;
// any deviation between encode and decode order is a protocol bug.
type Applier interface {
	Apply(s *Serializer) error
}

// Serializer drives pack/unpack/size/stringify over a flat buffer with a
// single cursor, exactly as described for the protocol's wire codec.
type Serializer struct {
	buf    []byte
	cursor int
	action Action
	out    *strings.Builder
}

func NewPacker(buf []byte) *Serializer   { return &Serializer{buf: buf, action: ActionPack} }
func NewUnpacker(buf []byte) *Serializer { return &Serializer{buf: buf, action: ActionUnpack} }
func NewSizer() *Serializer              { return &Serializer{action: ActionSize} }

func NewStringifier(out *strings.Builder) *Serializer {
	return &Serializer{action: ActionStringify, out: out}
}

func (s *Serializer) Action() Action { return s.action }
func (s *Serializer) Cursor() int    { return s.cursor }

func (s *Serializer) checkSize(n int) error {
	if s.action == ActionPack || s.action == ActionUnpack {
		if s.cursor+n > len(s.buf) {
			return ErrOverflow
		}
	}
	return nil
}

// U64 applies a uint64 field.
func (s *Serializer) U64(name string, v *uint64) error {
	if err := s.checkSize(8); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		binary.LittleEndian.PutUint64(s.buf[s.cursor:], *v)
	case ActionUnpack:
		*v = binary.LittleEndian.Uint64(s.buf[s.cursor : s.cursor+8])
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %d\n", name, *v)
	}
	s.cursor += 8
	return nil
}

// I64 applies an int64 field.
func (s *Serializer) I64(name string, v *int64) error {
	u := uint64(*v)
	if s.action == ActionPack {
		u = uint64(*v)
	}
	if err := s.U64(name, &u); err != nil {
		return err
	}
	if s.action == ActionUnpack {
		*v = int64(u)
	}
	return nil
}

// U32 applies a uint32 field.
func (s *Serializer) U32(name string, v *uint32) error {
	if err := s.checkSize(4); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		binary.LittleEndian.PutUint32(s.buf[s.cursor:], *v)
	case ActionUnpack:
		*v = binary.LittleEndian.Uint32(s.buf[s.cursor : s.cursor+4])
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %d\n", name, *v)
	}
	s.cursor += 4
	return nil
}

// I32 applies an int32 field.
func (s *Serializer) I32(name string, v *int32) error {
	u := uint32(*v)
	if err := s.U32(name, &u); err != nil {
		return err
	}
	if s.action == ActionUnpack {
		*v = int32(u)
	}
	return nil
}

// Bool applies a single-byte boolean field.
func (s *Serializer) Bool(name string, v *bool) error {
	if err := s.checkSize(1); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		if *v {
			s.buf[s.cursor] = 1
		} else {
			s.buf[s.cursor] = 0
		}
	case ActionUnpack:
		*v = s.buf[s.cursor] != 0
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %v\n", name, *v)
	}
	s.cursor++
	return nil
}

// FixedBytes applies a fixed-width byte array field (e.g. an endpoint
// address blob); the slice's current length determines the width.
func (s *Serializer) FixedBytes(name string, v []byte) error {
	n := len(v)
	if err := s.checkSize(n); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		copy(s.buf[s.cursor:s.cursor+n], v)
	case ActionUnpack:
		copy(v, s.buf[s.cursor:s.cursor+n])
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %x\n", name, v)
	}
	s.cursor += n
	return nil
}

// Bytes applies a variable-length, length-prefixed byte run: a u64 length
// followed by that many raw bytes. On unpack it copies into a freshly
// allocated slice and stores it at *v.
func (s *Serializer) Bytes(name string, v *[]byte) error {
	n := uint64(len(*v))
	if err := s.U64(name+".len", &n); err != nil {
		return err
	}
	if s.action == ActionUnpack {
		*v = make([]byte, n)
	}
	if err := s.checkSize(int(n)); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		copy(s.buf[s.cursor:s.cursor+int(n)], *v)
	case ActionUnpack:
		copy(*v, s.buf[s.cursor:s.cursor+int(n)])
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %d bytes\n", name, n)
	}
	s.cursor += int(n)
	return nil
}

// BytesOrPoint is the "serializeOrPoint" variant: on unpack it does not
// copy, it points *v at the live region of the serializer's own buffer.
// Callers must treat the result as borrowed and consume it before the
// underlying receive buffer is reposted.
func (s *Serializer) BytesOrPoint(name string, v *[]byte) error {
	n := uint64(len(*v))
	if err := s.U64(name+".len", &n); err != nil {
		return err
	}
	if err := s.checkSize(int(n)); err != nil {
		return err
	}
	switch s.action {
	case ActionPack:
		copy(s.buf[s.cursor:s.cursor+int(n)], *v)
	case ActionUnpack:
		*v = s.buf[s.cursor : s.cursor+int(n) : s.cursor+int(n)]
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %d bytes (borrowed)\n", name, n)
	}
	s.cursor += int(n)
	return nil
}

// String applies a NUL-terminated, length-prefixed string: a u64 length
// (including the terminator) followed by the bytes and the NUL.
func (s *Serializer) String(name string, v *string) error {
	switch s.action {
	case ActionPack:
		raw := append([]byte(*v), 0)
		n := uint64(len(raw))
		if err := s.U64(name+".len", &n); err != nil {
			return err
		}
		if err := s.checkSize(len(raw)); err != nil {
			return err
		}
		copy(s.buf[s.cursor:s.cursor+len(raw)], raw)
		s.cursor += len(raw)
		return nil
	case ActionUnpack:
		var n uint64
		if err := s.U64(name+".len", &n); err != nil {
			return err
		}
		if n == 0 {
			return ErrTruncatedString
		}
		if err := s.checkSize(int(n)); err != nil {
			return err
		}
		raw := s.buf[s.cursor : s.cursor+int(n)]
		if raw[len(raw)-1] != 0 {
			return ErrTruncatedString
		}
		*v = string(raw[:len(raw)-1])
		s.cursor += int(n)
		return nil
	case ActionSize:
		n := uint64(len(*v) + 1)
		var discard uint64
		if err := s.U64(name+".len", &discard); err != nil {
			return err
		}
		s.cursor += int(n)
		return nil
	case ActionStringify:
		fmt.Fprintf(s.out, "%s: %q\n", name, *v)
		return nil
	}
	return nil
}

// Pack serializes x into a freshly sized buffer.
func Pack(x Applier) ([]byte, error) {
	sizer := NewSizer()
	if err := x.Apply(sizer); err != nil {
		return nil, err
	}
	buf := make([]byte, sizer.Cursor())
	packer := NewPacker(buf)
	if err := x.Apply(packer); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unpack deserializes buf into x, which must be a pointer-receiver Applier.
func Unpack(buf []byte, x Applier) error {
	return x.Apply(NewUnpacker(buf))
}

// Size returns the packed size of x without allocating a buffer.
func Size(x Applier) (int, error) {
	sizer := NewSizer()
	if err := x.Apply(sizer); err != nil {
		return 0, err
	}
	return sizer.Cursor(), nil
}

// Stringify renders x as "field: value" lines, for debug logging.
func Stringify(x Applier) string {
	var sb strings.Builder
	_ = x.Apply(NewStringifier(&sb))
	return sb.String()
}
