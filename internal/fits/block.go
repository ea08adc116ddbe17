package fits

import (
	"bytes"
	"errors"
	"io"
)

// DefaultMaxHeaderBlocks bounds how many 2880-byte blocks a header may span
// before the reader gives up looking for END.
const DefaultMaxHeaderBlocks = 100

var (
	endCard   = []byte(padRight("END", CardSize))
	blankCard = bytes.Repeat([]byte{' '}, CardSize)
)

// CardReader yields the cards of one header lazily, one block at a time.
type CardReader struct {
	r         io.Reader
	base      int64
	block     [BlockSize]byte
	pos       int
	blocks    int
	maxBlocks int
	done      bool
	raw       []byte
}

// NewCardReader reads a header from r. base is the absolute offset of r's
// first byte and is only used in error reports. maxBlocks <= 0 selects
// DefaultMaxHeaderBlocks.
func NewCardReader(r io.Reader, base int64, maxBlocks int) *CardReader {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxHeaderBlocks
	}
	return &CardReader{r: r, base: base, pos: BlockSize, maxBlocks: maxBlocks}
}

// Blocks returns the number of header blocks consumed so far.
func (cr *CardReader) Blocks() int {
	return cr.blocks
}

// Raw returns every record read before END, including the blank, COMMENT
// and HISTORY cards Next skips, exactly as they appeared.
func (cr *CardReader) Raw() []byte {
	return cr.raw
}

// Size returns the number of bytes consumed so far.
func (cr *CardReader) Size() int64 {
	return int64(cr.blocks) * BlockSize
}

// Next returns the next key/value card. Blank, COMMENT and HISTORY cards are
// skipped. It returns io.EOF once the END card has been read; the remainder
// of the END block is consumed.
func (cr *CardReader) Next() (Card, error) {
	for {
		if cr.done {
			return Card{}, io.EOF
		}
		if cr.pos >= BlockSize {
			if err := cr.fill(); err != nil {
				return Card{}, err
			}
		}
		offset := cr.base + int64(cr.blocks-1)*BlockSize + int64(cr.pos)
		raw := cr.block[cr.pos : cr.pos+CardSize]
		cr.pos += CardSize
		if isEndCard(raw) {
			cr.done = true
			return Card{}, io.EOF
		}
		cr.raw = append(cr.raw, raw...)
		card, ok, err := ParseCard(raw)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Offset += offset
			}
			return Card{}, err
		}
		if !ok {
			continue
		}
		return card, nil
	}
}

func (cr *CardReader) fill() error {
	if cr.blocks >= cr.maxBlocks {
		return parseErr(ErrMissingEnd, cr.base+cr.Size(), "no END card within %d header blocks", cr.maxBlocks)
	}
	n, err := io.ReadFull(cr.r, cr.block[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return parseErr(ErrUnexpectedEOF, cr.base+cr.Size(), "stream ended before END card")
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return parseErr(ErrUnexpectedEOF, cr.base+cr.Size()+int64(n), "partial header block (%d of %d bytes)", n, BlockSize)
		}
		return err
	}
	cr.blocks++
	cr.pos = 0
	return nil
}

// isEndCard matches the literal END keyword in columns 1-8.
func isEndCard(raw []byte) bool {
	return bytes.Equal(raw[:keywordLen], endCard[:keywordLen])
}

// ReadHeader drains a CardReader into the ordered cards and the keyword map.
func ReadHeader(cr *CardReader) ([]Card, Header, error) {
	var cards []Card
	h := make(Header)
	for {
		card, err := cr.Next()
		if err == io.EOF {
			return cards, h, nil
		}
		if err != nil {
			return nil, nil, err
		}
		cards = append(cards, card)
		h[card.Keyword] = card.Value
	}
}

// WriteBlock formats cards, appends END and pads with blank cards to a
// whole number of 2880-byte blocks.
func WriteBlock(cards []Card) ([]byte, error) {
	n := len(cards) + 1
	if rem := n % CardsPerBlock; rem != 0 {
		n += CardsPerBlock - rem
	}
	out := make([]byte, 0, n*CardSize)
	for _, c := range cards {
		raw, err := FormatCard(c)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	out = append(out, endCard...)
	for len(out) < n*CardSize {
		out = append(out, blankCard...)
	}
	return out, nil
}
