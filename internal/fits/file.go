package fits

import (
	"fmt"
	"io"
	"math"
	"os"
)

// Image is the caller-facing view of an image HDU. Pixels holds
// Width*Height samples of Encoding in host byte order, row-major.
type Image struct {
	Header   Header
	Width    int
	Height   int
	Encoding Encoding
	Pixels   []byte
}

// Samples widens the pixels to float64.
func (img Image) Samples() ([]float64, error) {
	return SamplesFromPixels(img.Pixels, img.Encoding)
}

// Stats summarises sample values. NaN samples are counted but excluded from
// Min, Max and Mean.
type Stats struct {
	Count int     `json:"count"`
	NaN   int     `json:"nan,omitempty"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

func (img Image) Stats() (Stats, error) {
	samples, err := img.Samples()
	if err != nil {
		return Stats{}, err
	}
	return SampleStats(samples), nil
}

func SampleStats(samples []float64) Stats {
	st := Stats{Count: len(samples), Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range samples {
		if math.IsNaN(v) {
			st.NaN++
			continue
		}
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		sum += v
	}
	if n := st.Count - st.NaN; n > 0 {
		st.Mean = sum / float64(n)
	} else {
		st.Min, st.Max = 0, 0
	}
	return st
}

// Image converts an image HDU into host-order pixels.
func (h HDU) Image() (Image, error) {
	enc := h.Encoding
	if !enc.Valid() {
		var err error
		if enc, err = ResolveEncoding(EncodingUnset, h.Header, DefaultEncoding); err != nil {
			return Image{}, err
		}
	}
	width, height, err := GetDimensions(h.Header)
	if err != nil {
		return Image{}, err
	}
	if len(h.Axes) != 2 {
		return Image{}, validationErr(ErrMissingDimensions, "NAXIS", "image needs 2 axes, header has %d", len(h.Axes))
	}
	count := width * height
	if need := count * enc.BytesPerSample(); len(h.Data) < need {
		return Image{}, parseErr(ErrUnexpectedEOF, int64(len(h.Data)), "%dx%d %s needs %d data bytes, HDU has %d", width, height, enc, need, len(h.Data))
	}
	pixels := swapSamples(h.Data, enc, count, isLittleEndian(hostOrder()))
	return Image{
		Header:   h.Header.Clone(),
		Width:    width,
		Height:   height,
		Encoding: enc,
		Pixels:   pixels,
	}, nil
}

// ReadFile loads path and splits it into HDUs.
func ReadFile(path string, opts ReadOptions) ([]HDU, error) {
	data, err := readAll(path)
	if err != nil {
		return nil, err
	}
	opts.Metrics.SetTotalBytes(int64(len(data)))
	return ParseFile(data, opts)
}

func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, ioErr("stat", path, err)
	}
	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, ioErr("read", path, err)
	}
	return data, nil
}

func writeAll(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return ioErr("create", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return ioErr("write", path, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close", path, err)
	}
	return nil
}

// DecodeFile reads the primary image of the file at path.
func DecodeFile(path string) (Image, error) {
	hdus, err := ReadFile(path, ReadOptions{})
	if err != nil {
		return Image{}, err
	}
	return hdus[0].Image()
}

// EncodeFile writes a single-image FITS file. An unset enc is resolved from
// header BITPIX, then DefaultEncoding. Header entries that cannot be written
// are listed in the report; they do not fail the call. The file is truncated
// and written in place, so a failed write may leave it partial.
func EncodeFile(path string, pixels []byte, width, height int, enc Encoding, header Header) (WriteReport, error) {
	hdu, report, err := buildImageHDU(ImageSpec{
		Pixels:   pixels,
		Width:    width,
		Height:   height,
		Encoding: enc,
		Header:   header,
	}, true)
	if err != nil {
		return WriteReport{}, err
	}
	out, err := Assemble([]HDU{hdu})
	if err != nil {
		return WriteReport{}, err
	}
	if err := writeAll(path, out); err != nil {
		return WriteReport{}, err
	}
	return report, nil
}

// EncodeImages writes a data-less primary HDU carrying primary followed by one
// IMAGE extension per entry of images.
func EncodeImages(path string, primary Header, images []ImageSpec) (WriteReport, error) {
	stub, report := primaryStub(primary)
	hdus := []HDU{stub}
	for i, spec := range images {
		hdu, r, err := buildImageHDU(spec, false)
		if err != nil {
			return WriteReport{}, fmt.Errorf("image %d: %w", i, err)
		}
		report.merge(r)
		hdus = append(hdus, hdu)
	}
	out, err := Assemble(hdus)
	if err != nil {
		return WriteReport{}, err
	}
	if err := writeAll(path, out); err != nil {
		return WriteReport{}, err
	}
	return report, nil
}

// DecodeImages returns every image-bearing HDU of the file in order. HDUs
// without image data, such as a bare primary or table extensions, are
// skipped.
func DecodeImages(path string) ([]Image, error) {
	hdus, err := ReadFile(path, ReadOptions{})
	if err != nil {
		return nil, err
	}
	var images []Image
	for i, h := range hdus {
		if !h.IsImage() {
			continue
		}
		img, err := h.Image()
		if err != nil {
			return nil, fmt.Errorf("hdu %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// ReadFileHeader returns the primary header of the file at path. Only the
// header blocks are read.
func ReadFileHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer f.Close()
	cards, h, err := ReadHeader(NewCardReader(f, 0, DefaultMaxHeaderBlocks))
	if err != nil {
		return nil, err
	}
	if err := checkLeadCard(cards, true, 0); err != nil {
		return nil, err
	}
	return h, nil
}

// Verify parses the whole file and reports the first structural problem.
func Verify(path string) error {
	_, err := ReadFile(path, ReadOptions{})
	return err
}

// HeaderEdit records one change made by UpdateHeader. Before is nil when the
// keyword was appended.
type HeaderEdit struct {
	Keyword string `json:"keyword"`
	Before  *Value `json:"before"`
	After   Value  `json:"after"`
}

// UpdateHeader sets user keywords on the primary HDU of an existing file.
// Existing cards are updated in place, keeping their comment; new keywords
// are inserted before END. Every other header record, including COMMENT,
// HISTORY, blank and CONTINUE cards, and every other HDU is written back
// byte for byte. Protected keywords are ignored, keywords that cannot be
// formatted are reported and skipped. Written counts the keys actually
// changed or appended, so it equals len(edits).
func UpdateHeader(path string, h Header) (WriteReport, []HeaderEdit, error) {
	data, err := readAll(path)
	if err != nil {
		return WriteReport{}, nil, err
	}
	hdus, err := ParseFile(data, ReadOptions{})
	if err != nil {
		return WriteReport{}, nil, err
	}
	report, edits, err := applyHeader(&hdus[0], h)
	if err != nil {
		return WriteReport{}, nil, err
	}
	if len(edits) == 0 {
		return report, nil, nil
	}
	out, err := Assemble(hdus)
	if err != nil {
		return WriteReport{}, nil, err
	}
	if err := writeAll(path, out); err != nil {
		return WriteReport{}, nil, err
	}
	return report, edits, nil
}

// applyHeader edits the raw header records of hdu. Only the records of
// changed or appended keywords are re-formatted.
func applyHeader(hdu *HDU, h Header) (WriteReport, []HeaderEdit, error) {
	var report WriteReport
	var edits []HeaderEdit
	user, skipped := userCards(h, nil)
	report.Skipped = skipped

	records := append([]byte(nil), hdu.RawHeader...)
	if hdu.RawHeader == nil {
		for _, c := range hdu.Cards {
			raw, err := FormatCard(c)
			if err != nil {
				return WriteReport{}, nil, err
			}
			records = append(records, raw...)
		}
	}
	index := make(map[string]int)
	for off := 0; off+CardSize <= len(records); off += CardSize {
		card, ok, err := ParseCard(records[off : off+CardSize])
		if err == nil && ok {
			index[card.Keyword] = off
		}
	}

	for _, card := range user {
		off, ok := index[card.Keyword]
		if !ok {
			raw, err := FormatCard(card)
			if err != nil {
				report.Skipped = append(report.Skipped, KeyError{Keyword: card.Keyword, Err: err})
				continue
			}
			index[card.Keyword] = len(records)
			records = append(records, raw...)
			report.Written++
			edits = append(edits, HeaderEdit{Keyword: card.Keyword, After: card.Value})
			continue
		}
		existing, _, _ := ParseCard(records[off : off+CardSize])
		if existing.Value.Equal(card.Value) {
			continue
		}
		card.Comment = existing.Comment
		raw, err := FormatCard(card)
		if err != nil {
			report.Skipped = append(report.Skipped, KeyError{Keyword: card.Keyword, Err: err})
			continue
		}
		copy(records[off:off+CardSize], raw)
		before := existing.Value
		report.Written++
		edits = append(edits, HeaderEdit{Keyword: card.Keyword, Before: &before, After: card.Value})
	}

	cards, err := cardsOf(records)
	if err != nil {
		return WriteReport{}, nil, err
	}
	hdu.RawHeader = records
	hdu.Cards = cards
	hdu.Header = headerOf(cards)
	return report, edits, nil
}

// cardsOf parses raw header records into the key/value cards a CardReader
// would yield.
func cardsOf(records []byte) ([]Card, error) {
	var cards []Card
	for off := 0; off+CardSize <= len(records); off += CardSize {
		card, ok, err := ParseCard(records[off : off+CardSize])
		if err != nil {
			return nil, err
		}
		if ok {
			cards = append(cards, card)
		}
	}
	return cards, nil
}
