package boxparser

import (
	"encoding/binary"
	"fmt"
)

// Parser is an incremental parser for a progressive ISO-BMFF byte stream.
// Bytes are fed with Push in arbitrary chunks. Every complete top-level box
// is delivered to the callback as (boxType, raw bytes including header).
// The byte slice passed to the callback is only valid during the call,
// so the callback must copy data it wants to retain.
type Parser struct {
	onBox func(boxType string, data []byte) error
	buf   []byte
}

// NewParser creates a new Parser with an initial buffer.
// The buffer is grown as needed.
func NewParser(buf []byte, onBox func(boxType string, data []byte) error) *Parser {
	return &Parser{
		onBox: onBox,
		buf:   buf[:0],
	}
}

// Push appends data to the internal accumulator and delivers all complete
// top-level boxes via the callback. A partial box at the end is kept until
// more data arrives. Box sizes of 0 (box extends to end of input) are not
// meaningful for an unbounded live stream and are treated as errors, as are
// sizes below the header size.
func (p *Parser) Push(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		if len(p.buf) < 8 {
			return nil
		}
		size := uint64(binary.BigEndian.Uint32(p.buf[:4]))
		boxType := string(p.buf[4:8])
		headerSize := uint64(8)
		switch size {
		case 0:
			return fmt.Errorf("box %q extends to end of input, not supported for live streams", boxType)
		case 1:
			if len(p.buf) < 16 {
				return nil
			}
			size = binary.BigEndian.Uint64(p.buf[8:16])
			headerSize = 16
		}
		if size < headerSize {
			return fmt.Errorf("box %q has invalid size %d", boxType, size)
		}
		if uint64(len(p.buf)) < size {
			return nil
		}
		if err := p.onBox(boxType, p.buf[:size]); err != nil {
			return err
		}
		copy(p.buf, p.buf[size:])
		p.buf = p.buf[:uint64(len(p.buf))-size]
	}
}

// Buffered returns the number of accumulated bytes not yet forming a complete box.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Flush discards any residual partial box.
func (p *Parser) Flush() {
	p.buf = p.buf[:0]
}
