package fits

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"example.com/fitsgate/internal/common"
)

func pixelsFor(t *testing.T, enc Encoding, n int) []byte {
	t.Helper()
	pixels, err := PixelsFromSamples(samplesFor(enc, n), enc)
	if err != nil {
		t.Fatalf("PixelsFromSamples: %v", err)
	}
	return pixels
}

func keywords(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Keyword
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildHDUStructuralOrder(t *testing.T) {
	spec := ImageSpec{
		Pixels:   pixelsFor(t, Int16, 6),
		Width:    3,
		Height:   2,
		Encoding: Int16,
		Header:   Header{"OBJECT": String("M31"), "EXPTIME": Float(30)},
	}
	primary, skipped, err := BuildHDU(spec, true)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("BuildHDU primary: %v %v", err, skipped)
	}
	want := []string{"SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "EXPTIME", "OBJECT"}
	if got := keywords(primary.Cards); !equalStrings(got, want) {
		t.Fatalf("primary cards %v, want %v", got, want)
	}
	ext, _, err := BuildHDU(spec, false)
	if err != nil {
		t.Fatalf("BuildHDU extension: %v", err)
	}
	want = []string{"XTENSION", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "PCOUNT", "GCOUNT", "EXPTIME", "OBJECT"}
	if got := keywords(ext.Cards); !equalStrings(got, want) {
		t.Fatalf("extension cards %v, want %v", got, want)
	}
	if ext.Kind() != "IMAGE" || primary.Kind() != "PRIMARY" {
		t.Fatalf("kinds %q %q", primary.Kind(), ext.Kind())
	}
	if len(primary.Data) != 12 {
		t.Fatalf("data length %d, want 12", len(primary.Data))
	}
}

func TestBuildHDUIgnoresProtectedUserKeys(t *testing.T) {
	spec := ImageSpec{
		Pixels: pixelsFor(t, Float32, 4),
		Width:  2,
		Height: 2,
		Header: Header{
			"NAXIS1":   Int(999),
			"NAXIS":    Int(3),
			"NAXIS3":   Int(5),
			"SIMPLE":   Bool(false),
			"XTENSION": String("TABLE"),
			"PCOUNT":   Int(9),
			"END":      Int(1),
			"BITPIX":   Int(-32),
		},
	}
	hdu, skipped, err := BuildHDU(spec, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("protected keys must be dropped silently, got %v", skipped)
	}
	if n, _ := hdu.Header["NAXIS1"].AsInt(); n != 2 {
		t.Fatalf("NAXIS1 = %d, want 2", n)
	}
	count := 0
	for _, c := range hdu.Cards {
		if c.Keyword == "NAXIS1" {
			count++
		}
	}
	if count != 1 || len(hdu.Cards) != 5 {
		t.Fatalf("cards %v", keywords(hdu.Cards))
	}
}

func TestBuildHDUReportsBadKeys(t *testing.T) {
	spec := ImageSpec{
		Pixels:   []byte{1, 2, 3, 4},
		Width:    2,
		Height:   2,
		Encoding: Uint8,
		Header: Header{
			"OBSERVER": String("hubble"),
			"BAD KEY":  Int(1),
			"NANVAL":   Float(math.NaN()),
			"COMMENT":  String("free text"),
			"LONGSTR":  String(string(bytes.Repeat([]byte{'s'}, 80))),
		},
	}
	hdu, skipped, err := BuildHDU(spec, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	var names []string
	for _, k := range skipped {
		names = append(names, k.Keyword)
		if !errors.Is(k.Err, ErrMalformedCard) {
			t.Fatalf("%s: unexpected error %v", k.Keyword, k.Err)
		}
	}
	if want := []string{"BAD KEY", "COMMENT", "LONGSTR", "NANVAL"}; !equalStrings(names, want) {
		t.Fatalf("skipped %v, want %v", names, want)
	}
	if s, _ := hdu.Header["OBSERVER"].AsString(); s != "hubble" {
		t.Fatalf("OBSERVER missing from %v", keywords(hdu.Cards))
	}
}

func TestBuildHDUDimensionsMismatch(t *testing.T) {
	for _, enc := range Encodings {
		t.Run(enc.String(), func(t *testing.T) {
			pixels := make([]byte, 4*3*enc.BytesPerSample()+1)
			_, _, err := BuildHDU(ImageSpec{Pixels: pixels, Width: 4, Height: 3, Encoding: enc}, true)
			if !errors.Is(err, ErrDimensionsMismatch) {
				t.Fatalf("expected ErrDimensionsMismatch, got %v", err)
			}
		})
	}
}

func TestAssembleParseFile(t *testing.T) {
	stub, _ := primaryStub(Header{"ORIGIN": String("test")})
	first, _, err := BuildHDU(ImageSpec{Pixels: pixelsFor(t, Int32, 35), Width: 7, Height: 5, Encoding: Int32}, false)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	second, _, err := BuildHDU(ImageSpec{Pixels: pixelsFor(t, Float64, 1000), Width: 40, Height: 25, Encoding: Float64}, false)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	raw, err := Assemble([]HDU{stub, first, second})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(raw)%BlockSize != 0 {
		t.Fatalf("file length %d is not block aligned", len(raw))
	}
	hdus, err := ParseFile(raw, ReadOptions{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(hdus) != 3 {
		t.Fatalf("parsed %d HDUs, want 3", len(hdus))
	}
	if hdus[0].Kind() != "PRIMARY" || hdus[0].IsImage() || len(hdus[0].Data) != 0 {
		t.Fatalf("primary stub parsed as %q image=%v data=%d", hdus[0].Kind(), hdus[0].IsImage(), len(hdus[0].Data))
	}
	for i, want := range []HDU{first, second} {
		got := hdus[i+1]
		if !got.IsImage() || got.Encoding != want.Encoding {
			t.Fatalf("hdu %d: image=%v encoding=%v", i+1, got.IsImage(), got.Encoding)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("hdu %d: data differs", i+1)
		}
		if !equalStrings(keywords(got.Cards), keywords(want.Cards)) {
			t.Fatalf("hdu %d: cards %v, want %v", i+1, keywords(got.Cards), keywords(want.Cards))
		}
	}
}

func TestParseFileCopiesData(t *testing.T) {
	hdu, _, err := BuildHDU(ImageSpec{Pixels: []byte{9, 8, 7, 6}, Width: 2, Height: 2, Encoding: Uint8}, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	raw, err := Assemble([]HDU{hdu})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	hdus, err := ParseFile(raw, ReadOptions{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	for i := range raw {
		raw[i] = 0
	}
	if !bytes.Equal(hdus[0].Data, []byte{9, 8, 7, 6}) {
		t.Fatalf("data aliased the input: % X", hdus[0].Data)
	}
}

func TestParseFileMissingFinalPad(t *testing.T) {
	hdu, _, err := BuildHDU(ImageSpec{Pixels: pixelsFor(t, Int16, 10), Width: 5, Height: 2, Encoding: Int16}, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	raw, err := Assemble([]HDU{hdu})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	trimmed := raw[:BlockSize+20]
	hdus, err := ParseFile(trimmed, ReadOptions{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if !bytes.Equal(hdus[0].Data, hdu.Data) {
		t.Fatalf("data differs")
	}
	if _, err := ParseFile(raw[:BlockSize+19], ReadOptions{}); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("truncated data: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestParseFileRejectsBadLeadCard(t *testing.T) {
	ext, _, err := BuildHDU(ImageSpec{Pixels: []byte{1}, Width: 1, Height: 1, Encoding: Uint8}, false)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	prim, _, err := BuildHDU(ImageSpec{Pixels: []byte{1}, Width: 1, Height: 1, Encoding: Uint8}, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	tests := []struct {
		name string
		hdus []HDU
	}{
		{name: "extension first", hdus: []HDU{ext}},
		{name: "second primary", hdus: []HDU{prim, prim}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Assemble(tc.hdus)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			_, err = ParseFile(raw, ReadOptions{})
			if !errors.Is(err, ErrMalformedCard) {
				t.Fatalf("expected ErrMalformedCard, got %v", err)
			}
		})
	}
	if _, err := ParseFile(nil, ReadOptions{}); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("empty input: expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestParseFileFramesTables(t *testing.T) {
	prim, _, err := BuildHDU(ImageSpec{Pixels: []byte{1, 2}, Width: 2, Height: 1, Encoding: Uint8}, true)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	table := HDU{
		Cards: []Card{
			{Keyword: "XTENSION", Value: String("BINTABLE")},
			{Keyword: "BITPIX", Value: Int(8)},
			{Keyword: "NAXIS", Value: Int(2)},
			{Keyword: "NAXIS1", Value: Int(4)},
			{Keyword: "NAXIS2", Value: Int(3)},
			{Keyword: "PCOUNT", Value: Int(0)},
			{Keyword: "GCOUNT", Value: Int(1)},
			{Keyword: "TFIELDS", Value: Int(1)},
		},
		Data: bytes.Repeat([]byte{0xAB}, 12),
	}
	tail, _, err := BuildHDU(ImageSpec{Pixels: []byte{5}, Width: 1, Height: 1, Encoding: Uint8}, false)
	if err != nil {
		t.Fatalf("BuildHDU: %v", err)
	}
	raw, err := Assemble([]HDU{prim, table, tail})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	metrics := common.NewMetrics()
	hdus, err := ParseFile(raw, ReadOptions{Metrics: metrics})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(hdus) != 3 {
		t.Fatalf("parsed %d HDUs, want 3", len(hdus))
	}
	if hdus[1].Kind() != "BINTABLE" || hdus[1].IsImage() || len(hdus[1].Data) != 12 {
		t.Fatalf("table parsed as %q image=%v data=%d", hdus[1].Kind(), hdus[1].IsImage(), len(hdus[1].Data))
	}
	if !bytes.Equal(hdus[2].Data, []byte{5}) {
		t.Fatalf("image after table misframed: % X", hdus[2].Data)
	}
	snap := metrics.Snapshot()
	if snap.HDUs != 3 || snap.Unframed != 1 || snap.Bytes != int64(len(raw)) {
		t.Fatalf("metrics %+v", snap)
	}
}
