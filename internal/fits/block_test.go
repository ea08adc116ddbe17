package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
)

func numberedCards(n int) []Card {
	cards := make([]Card, n)
	for i := range cards {
		cards[i] = Card{Keyword: fmt.Sprintf("KEY%02d", i), Value: Int(int64(i * 3))}
	}
	return cards
}

func TestWriteBlockPadding(t *testing.T) {
	tests := []struct {
		cards int
		size  int
	}{
		{cards: 0, size: BlockSize},
		{cards: 3, size: BlockSize},
		{cards: 35, size: BlockSize},
		{cards: 36, size: 2 * BlockSize},
		{cards: 40, size: 2 * BlockSize},
		{cards: 71, size: 2 * BlockSize},
		{cards: 72, size: 3 * BlockSize},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d cards", tc.cards), func(t *testing.T) {
			out, err := WriteBlock(numberedCards(tc.cards))
			if err != nil {
				t.Fatalf("WriteBlock: %v", err)
			}
			if len(out) != tc.size {
				t.Fatalf("len = %d, want %d", len(out), tc.size)
			}
			end := out[tc.cards*CardSize : (tc.cards+1)*CardSize]
			if !bytes.Equal(end, endCard) {
				t.Fatalf("card %d is %q, want END", tc.cards, end)
			}
			for i := (tc.cards + 1) * CardSize; i < len(out); i++ {
				if out[i] != ' ' {
					t.Fatalf("byte %d after END is 0x%02X, want blank", i, out[i])
				}
			}
		})
	}
}

func TestReadHeaderAcrossBlocks(t *testing.T) {
	cards := numberedCards(40)
	raw, err := WriteBlock(cards)
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	cr := NewCardReader(bytes.NewReader(raw), 0, 0)
	got, h, err := ReadHeader(cr)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if len(got) != len(cards) {
		t.Fatalf("read %d cards, want %d", len(got), len(cards))
	}
	for i, c := range cards {
		if got[i].Keyword != c.Keyword || !got[i].Value.Equal(c.Value) {
			t.Fatalf("card %d = %s=%v, want %s=%v", i, got[i].Keyword, got[i].Value, c.Keyword, c.Value)
		}
		if !h[c.Keyword].Equal(c.Value) {
			t.Fatalf("map %s = %v, want %v", c.Keyword, h[c.Keyword], c.Value)
		}
	}
	if cr.Blocks() != 2 || cr.Size() != 2*BlockSize {
		t.Fatalf("consumed %d blocks (%d bytes), want 2", cr.Blocks(), cr.Size())
	}
}

func TestCardReaderIsLazy(t *testing.T) {
	raw, err := WriteBlock(numberedCards(40))
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	cr := NewCardReader(bytes.NewReader(raw), 0, 0)
	for i := 0; i < CardsPerBlock; i++ {
		if _, err := cr.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	if cr.Blocks() != 1 {
		t.Fatalf("after %d cards read %d blocks, want 1", CardsPerBlock, cr.Blocks())
	}
	if _, err := cr.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if cr.Blocks() != 2 {
		t.Fatalf("blocks = %d, want 2", cr.Blocks())
	}
}

func TestCardReaderDropsCommentary(t *testing.T) {
	var raw []byte
	for _, line := range []string{
		"SIMPLE  =                    T",
		"COMMENT   written by hand",
		"",
		"HISTORY   step one",
		"BITPIX  =                    8",
		"END",
	} {
		raw = append(raw, rawCard(line)...)
	}
	for len(raw) < BlockSize {
		raw = append(raw, blankCard...)
	}
	cards, h, err := ReadHeader(NewCardReader(bytes.NewReader(raw), 0, 0))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if len(cards) != 2 || len(h) != 2 {
		t.Fatalf("got %d cards / %d keys, want 2", len(cards), len(h))
	}
	if _, ok := h["COMMENT"]; ok {
		t.Fatalf("COMMENT leaked into header map")
	}
}

func TestCardReaderDuplicateKeywordLastWins(t *testing.T) {
	raw, err := WriteBlock([]Card{
		{Keyword: "OBJECT", Value: String("first")},
		{Keyword: "OBJECT", Value: String("second")},
	})
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	_, h, err := ReadHeader(NewCardReader(bytes.NewReader(raw), 0, 0))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if s, _ := h["OBJECT"].AsString(); s != "second" {
		t.Fatalf("OBJECT = %q, want second", s)
	}
}

func TestCardReaderErrors(t *testing.T) {
	blanks := bytes.Repeat([]byte{' '}, 3*BlockSize)
	tests := []struct {
		name      string
		raw       []byte
		maxBlocks int
		want      error
	}{
		{name: "empty", raw: nil, want: ErrUnexpectedEOF},
		{name: "partial block", raw: blanks[:1000], want: ErrUnexpectedEOF},
		{name: "end never found", raw: blanks, want: ErrUnexpectedEOF},
		{name: "block limit", raw: blanks, maxBlocks: 2, want: ErrMissingEnd},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ReadHeader(NewCardReader(bytes.NewReader(tc.raw), 0, tc.maxBlocks))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCardReaderErrorOffset(t *testing.T) {
	raw, err := WriteBlock(numberedCards(40))
	if err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	bad := BlockSize + CardSize
	copy(raw[bad:], "bad")
	cr := NewCardReader(bytes.NewReader(raw), 100, 0)
	for {
		_, err = cr.Next()
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		t.Fatalf("expected a parse error")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if want := int64(100 + bad); pe.Offset != want {
		t.Fatalf("offset = %d, want %d", pe.Offset, want)
	}
}
