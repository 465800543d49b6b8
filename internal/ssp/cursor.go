package ssp

import "encoding/binary"

// builder assembles a command payload byte-by-byte. It mirrors the
// Append*/Decode* byte-cursor idiom used throughout asdu-style codecs:
// one small helper method per wire primitive, called in wire order.
type builder struct {
	b []byte
}

func (w *builder) byte(v byte) *builder { w.b = append(w.b, v); return w }

func (w *builder) u16(v uint16) *builder {
	w.b = append(w.b, byte(v), byte(v>>8))
	return w
}

func (w *builder) u32(v uint32) *builder {
	w.b = append(w.b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return w
}

func (w *builder) u64(v uint64) *builder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.b = append(w.b, buf[:]...)
	return w
}

// ascii appends s as fixed-width ASCII, zero-padded or truncated to n.
func (w *builder) ascii(s string, n int) *builder {
	buf := make([]byte, n)
	copy(buf, s)
	w.b = append(w.b, buf...)
	return w
}

func (w *builder) bytes(v ...byte) *builder { w.b = append(w.b, v...); return w }

func (w *builder) bytesSlice(v []byte) *builder { w.b = append(w.b, v...); return w }

// cursor decodes a response payload byte-by-byte.
type cursor struct {
	b []byte
}

func (c *cursor) remaining() int { return len(c.b) }

func (c *cursor) byte() byte {
	v := c.b[0]
	c.b = c.b[1:]
	return v
}

func (c *cursor) u16() uint16 {
	v := binary.LittleEndian.Uint16(c.b)
	c.b = c.b[2:]
	return v
}

func (c *cursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.b)
	c.b = c.b[4:]
	return v
}

func (c *cursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.b)
	c.b = c.b[8:]
	return v
}

func (c *cursor) ascii(n int) string {
	v := string(c.b[:n])
	c.b = c.b[n:]
	return v
}

func (c *cursor) bytes(n int) []byte {
	v := c.b[:n]
	c.b = c.b[n:]
	return v
}
