package packet

import (
	"github.com/juju/errors"
)

// BitReader reads MSB-first fields of arbitrary width from a byte slice.
type BitReader struct {
	b   []byte
	pos int // bits consumed
}

func NewBitReader(b []byte) *BitReader { return &BitReader{b: b} }

func (self *BitReader) Len() int       { return len(self.b) * 8 }
func (self *BitReader) Pos() int       { return self.pos }
func (self *BitReader) Remaining() int { return self.Len() - self.pos }

// Uint reads width bits, 1 <= width <= 64.
func (self *BitReader) Uint(width int) (uint64, error) {
	if width < 1 || width > 64 {
		panic("code error BitReader width must be 1..64")
	}
	if self.Remaining() < width {
		return 0, errors.Annotatef(ErrDecodeOverrun, "read %d bits at pos=%d len=%d", width, self.pos, self.Len())
	}
	var v uint64
	for width > 0 {
		byteIdx := self.pos / 8
		bitOff := self.pos % 8
		avail := 8 - bitOff
		take := avail
		if take > width {
			take = width
		}
		chunk := (self.b[byteIdx] >> uint(avail-take)) & byte(uint(1)<<uint(take)-1)
		v = v<<uint(take) | uint64(chunk)
		self.pos += take
		width -= take
	}
	return v, nil
}

// Int reads width bits as two's complement signed integer.
func (self *BitReader) Int(width int) (int64, error) {
	u, err := self.Uint(width)
	if err != nil {
		return 0, err
	}
	if width < 64 && u&(1<<uint(width-1)) != 0 {
		return int64(u) - int64(1)<<uint(width), nil
	}
	return int64(u), nil
}

func (self *BitReader) Bool() (bool, error) {
	u, err := self.Uint(1)
	return u == 1, err
}

// Skip advances by n bits.
func (self *BitReader) Skip(n int) error {
	if self.Remaining() < n {
		return errors.Annotatef(ErrDecodeOverrun, "skip %d bits at pos=%d len=%d", n, self.pos, self.Len())
	}
	self.pos += n
	return nil
}
