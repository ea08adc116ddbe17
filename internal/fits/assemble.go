package fits

import (
	"bytes"
	"strings"

	"example.com/fitsgate/internal/common"
)

// ImageSpec describes one image to be written. Pixels holds Width*Height
// samples of Encoding in host byte order. An unset Encoding is resolved from
// Header["BITPIX"] and then DefaultEncoding.
type ImageSpec struct {
	Pixels   []byte
	Width    int
	Height   int
	Encoding Encoding
	Header   Header
}

// HDU is one header/data unit as it appears in a file. Cards keeps file order,
// Header is the keyword view of the same cards. Data is the big-endian data
// segment without its block padding. Encoding is EncodingUnset when BITPIX is
// not one of the supported sample types.
//
// RawHeader holds the header records of a parsed HDU as read, without END
// and its padding. It is nil for HDUs built in memory. When set, Assemble
// writes it in place of Cards.
type HDU struct {
	Cards     []Card
	Header    Header
	Axes      []int
	Encoding  Encoding
	Data      []byte
	RawHeader []byte
}

// Kind is "PRIMARY" for the primary HDU, otherwise the XTENSION value.
func (h HDU) Kind() string {
	if _, ok := h.Header["SIMPLE"]; ok {
		return "PRIMARY"
	}
	if s, ok := h.Header["XTENSION"].AsString(); ok {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return ""
}

// IsImage reports whether the HDU carries a decodable two-dimensional image.
func (h HDU) IsImage() bool {
	kind := h.Kind()
	return (kind == "PRIMARY" || kind == "IMAGE") && h.Encoding.Valid() && len(h.Axes) == 2
}

// IsProtected reports whether kw is a structural keyword that writers always
// generate themselves: SIMPLE, XTENSION, BITPIX, NAXIS, NAXISn, END, PCOUNT
// and GCOUNT.
func IsProtected(kw string) bool {
	switch kw {
	case "SIMPLE", "XTENSION", "BITPIX", "NAXIS", "END", "PCOUNT", "GCOUNT":
		return true
	}
	rest, ok := strings.CutPrefix(kw, "NAXIS")
	if !ok || rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return true
}

// BuildHDU converts spec into an image HDU. The structural cards come first
// in fixed order; user keywords follow in lexical order. Protected user
// keywords are dropped silently, other keywords that cannot be formatted are
// returned as KeyErrors and skipped.
func BuildHDU(spec ImageSpec, primary bool) (HDU, []KeyError, error) {
	hdu, report, err := buildImageHDU(spec, primary)
	return hdu, report.Skipped, err
}

func buildImageHDU(spec ImageSpec, primary bool) (HDU, WriteReport, error) {
	enc, err := ResolveEncoding(spec.Encoding, spec.Header, DefaultEncoding)
	if err != nil {
		return HDU{}, WriteReport{}, err
	}
	if err := ValidateLength(spec.Pixels, spec.Width, spec.Height, enc); err != nil {
		return HDU{}, WriteReport{}, err
	}
	data := swapSamples(spec.Pixels, enc, spec.Width*spec.Height, isLittleEndian(hostOrder()))

	var cards []Card
	if primary {
		cards = append(cards, Card{Keyword: "SIMPLE", Value: Bool(true), Comment: "conforms to FITS standard"})
	} else {
		cards = append(cards, Card{Keyword: "XTENSION", Value: String("IMAGE"), Comment: "image extension"})
	}
	cards = append(cards,
		Card{Keyword: "BITPIX", Value: Int(int64(enc)), Comment: "bits per data value"},
		Card{Keyword: "NAXIS", Value: Int(2), Comment: "number of data axes"},
		Card{Keyword: "NAXIS1", Value: Int(int64(spec.Width)), Comment: "length of data axis 1"},
		Card{Keyword: "NAXIS2", Value: Int(int64(spec.Height)), Comment: "length of data axis 2"},
	)
	if !primary {
		cards = append(cards,
			Card{Keyword: "PCOUNT", Value: Int(0), Comment: "required keyword"},
			Card{Keyword: "GCOUNT", Value: Int(1), Comment: "required keyword"},
		)
	}
	user, skipped := userCards(spec.Header, nil)
	cards = append(cards, user...)
	return HDU{
		Cards:    cards,
		Header:   headerOf(cards),
		Axes:     []int{spec.Width, spec.Height},
		Encoding: enc,
		Data:     data,
	}, WriteReport{Written: len(user), Skipped: skipped}, nil
}

// primaryStub returns a data-less primary HDU announcing extensions.
func primaryStub(h Header) (HDU, WriteReport) {
	cards := []Card{
		{Keyword: "SIMPLE", Value: Bool(true), Comment: "conforms to FITS standard"},
		{Keyword: "BITPIX", Value: Int(8), Comment: "bits per data value"},
		{Keyword: "NAXIS", Value: Int(0), Comment: "no primary data"},
		{Keyword: "EXTEND", Value: Bool(true), Comment: "extensions may follow"},
	}
	user, skipped := userCards(h, map[string]bool{"EXTEND": true})
	cards = append(cards, user...)
	return HDU{Cards: cards, Header: headerOf(cards), Axes: []int{}, Encoding: Uint8}, WriteReport{Written: len(user), Skipped: skipped}
}

func userCards(h Header, generated map[string]bool) ([]Card, []KeyError) {
	var cards []Card
	var skipped []KeyError
	for _, kw := range h.Keys() {
		if IsProtected(kw) || generated[kw] {
			continue
		}
		if isCommentary(kw) {
			skipped = append(skipped, KeyError{Keyword: kw, Err: validationErr(ErrMalformedCard, kw, "commentary cards are not written")})
			continue
		}
		card := Card{Keyword: kw, Value: h[kw]}
		if _, err := FormatCard(card); err != nil {
			skipped = append(skipped, KeyError{Keyword: kw, Err: err})
			continue
		}
		cards = append(cards, card)
	}
	return cards, skipped
}

func headerOf(cards []Card) Header {
	h := make(Header, len(cards))
	for _, c := range cards {
		h[c.Keyword] = c.Value
	}
	return h
}

func paddedSize(n int64) int64 {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}
	return n
}

// Assemble serialises hdus in order: each header block followed by its data
// zero-padded to a whole block.
func Assemble(hdus []HDU) ([]byte, error) {
	var buf bytes.Buffer
	for _, h := range hdus {
		head, err := headerBytes(h)
		if err != nil {
			return nil, err
		}
		buf.Write(head)
		buf.Write(h.Data)
		if pad := paddedSize(int64(len(h.Data))) - int64(len(h.Data)); pad > 0 {
			buf.Write(make([]byte, pad))
		}
	}
	return buf.Bytes(), nil
}

func headerBytes(h HDU) ([]byte, error) {
	if h.RawHeader == nil {
		return WriteBlock(h.Cards)
	}
	if len(h.RawHeader)%CardSize != 0 {
		return nil, validationErr(ErrMalformedCard, "header", "raw header is %d bytes, not whole cards", len(h.RawHeader))
	}
	out := append(append([]byte(nil), h.RawHeader...), endCard...)
	for len(out)%BlockSize != 0 {
		out = append(out, blankCard...)
	}
	return out, nil
}

// ReadOptions tunes ParseFile. The zero value is ready to use.
type ReadOptions struct {
	MaxHeaderBlocks int
	Metrics         *common.Metrics
}

type parseState int

const (
	stateExpectHeader parseState = iota
	stateExpectData
	stateDone
)

// ParseFile splits a complete FITS byte stream into HDUs. The first HDU must
// open with SIMPLE and every later one with XTENSION. Data segments are
// copied out of data. A final data segment missing its block padding is
// accepted; any other irregularity aborts the parse.
func ParseFile(data []byte, opts ReadOptions) ([]HDU, error) {
	var (
		hdus     []HDU
		cur      HDU
		offset   int64
		start    int64
		dataLen  int64
		state    = stateExpectHeader
		total    = int64(len(data))
		maxBlock = opts.MaxHeaderBlocks
	)
	for state != stateDone {
		switch state {
		case stateExpectHeader:
			cr := NewCardReader(bytes.NewReader(data[offset:]), offset, maxBlock)
			cards, h, err := ReadHeader(cr)
			if err != nil {
				return nil, err
			}
			if err := checkLeadCard(cards, len(hdus) == 0, offset); err != nil {
				return nil, err
			}
			axes, err := Axes(h)
			if err != nil {
				return nil, err
			}
			size, err := DataSize(h)
			if err != nil {
				return nil, err
			}
			enc := EncodingUnset
			if bitpix, ok := h["BITPIX"].AsInt(); ok && Encoding(bitpix).Valid() {
				enc = Encoding(bitpix)
			}
			start = offset
			offset += cr.Size()
			cur = HDU{Cards: cards, Header: h, Axes: axes, Encoding: enc, RawHeader: cr.Raw()}
			dataLen = size
			state = stateExpectData

		case stateExpectData:
			remaining := total - offset
			if dataLen > remaining {
				return nil, parseErr(ErrUnexpectedEOF, total, "data segment needs %d bytes, %d left", dataLen, remaining)
			}
			if dataLen > 0 {
				cur.Data = append([]byte(nil), data[offset:offset+dataLen]...)
			}
			offset += min(paddedSize(dataLen), remaining)
			opts.Metrics.AddHDU(offset-start, len(cur.Cards))
			if !cur.IsImage() && dataLen > 0 {
				opts.Metrics.IncUnframed()
			}
			hdus = append(hdus, cur)
			if offset < total {
				state = stateExpectHeader
			} else {
				state = stateDone
			}
		}
	}
	return hdus, nil
}

func checkLeadCard(cards []Card, primary bool, offset int64) error {
	want := "XTENSION"
	if primary {
		want = "SIMPLE"
	}
	if len(cards) == 0 || cards[0].Keyword != want {
		got := "nothing"
		if len(cards) > 0 {
			got = cards[0].Keyword
		}
		return parseErr(ErrMalformedCard, offset, "header must start with %s, found %s", want, got)
	}
	if primary {
		if v := cards[0].Value; v.Kind != KindBool || !v.Bool {
			return parseErr(ErrMalformedCard, offset, "SIMPLE must be T")
		}
	}
	return nil
}
