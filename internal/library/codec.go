// internal/library/codec.go
package library

import (
	"encoding/binary"
	"fmt"

	"shelfkeeper/internal/identity"
)

// MarshalBinary encodes the record as
//
//	owner(32) | name(u32 len + bytes) | count(u32) | count × [name(u32 len + bytes) | pages(u16) | available(u8)]
//
// with little-endian integers.
func (l *Library) MarshalBinary() ([]byte, error) {
	if len(l.Books) > MaxBooks {
		return nil, fmt.Errorf("%w: %d books", ErrCorruptRecord, len(l.Books))
	}
	buf := make([]byte, 0, identity.Size+4+len(l.Name)+4+len(l.Books)*(4+MaxNameLen+3))
	buf = append(buf, l.Owner[:]...)
	buf = appendString(buf, l.Name)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.Books)))
	for _, b := range l.Books {
		buf = appendString(buf, b.Name)
		buf = binary.LittleEndian.AppendUint16(buf, b.Pages)
		if b.Available {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary, enforcing the
// name and capacity bounds.
func (l *Library) UnmarshalBinary(data []byte) error {
	r := reader{buf: data}
	var out Library
	copy(out.Owner[:], r.next(identity.Size))
	out.Name = r.str()
	count := r.u32()
	if r.err == nil && count > MaxBooks {
		return fmt.Errorf("%w: %d books", ErrCorruptRecord, count)
	}
	out.Books = make([]Book, 0, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		var b Book
		b.Name = r.str()
		b.Pages = r.u16()
		switch flag := r.flag(); flag {
		case 0:
		case 1:
			b.Available = true
		default:
			if r.err == nil {
				r.err = fmt.Errorf("availability flag %d", flag)
			}
		}
		out.Books = append(out.Books, b)
	}
	if r.err == nil && len(r.buf) != 0 {
		r.err = fmt.Errorf("%d trailing bytes", len(r.buf))
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, r.err)
	}
	*l = out
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// reader consumes a record, remembering the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("need %d bytes, have %d", n, len(r.buf))
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) flag() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) str() string {
	n := r.u32()
	if r.err == nil && n > MaxNameLen {
		r.err = fmt.Errorf("name is %d bytes", n)
		return ""
	}
	return string(r.next(int(n)))
}
