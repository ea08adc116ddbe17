package fits

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

var hosts = []struct {
	name  string
	order binary.ByteOrder
}{
	{name: "big endian host", order: binary.BigEndian},
	{name: "little endian host", order: binary.LittleEndian},
}

func samplesFor(enc Encoding, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch enc {
		case Uint8:
			out[i] = float64(i % 256)
		case Int16:
			out[i] = float64((i*37)%65536 - 32768)
		case Int32:
			out[i] = float64(i*100003 - 5000000)
		case Float32:
			out[i] = float64(float32(i)*0.5 - 3)
		case Float64:
			out[i] = float64(i)*1.0e-3 - math.Pi
		}
	}
	return out
}

func TestDecodeEncodeBothHosts(t *testing.T) {
	for _, host := range hosts {
		for _, enc := range Encodings {
			t.Run(host.name+"/"+enc.String(), func(t *testing.T) {
				samples := samplesFor(enc, 50)
				buf, err := encodeOn(host.order, samples, enc)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				if len(buf) != len(samples)*enc.BytesPerSample() {
					t.Fatalf("encoded %d bytes, want %d", len(buf), len(samples)*enc.BytesPerSample())
				}
				got, err := decodeOn(host.order, buf, enc, len(samples))
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				for i := range samples {
					if got[i] != samples[i] {
						t.Fatalf("sample %d = %v, want %v", i, got[i], samples[i])
					}
				}
			})
		}
	}
}

func TestEncodeIsBigEndianOnEveryHost(t *testing.T) {
	tests := []struct {
		enc  Encoding
		v    float64
		want []byte
	}{
		{enc: Uint8, v: 200, want: []byte{0xC8}},
		{enc: Int16, v: 1, want: []byte{0x00, 0x01}},
		{enc: Int16, v: -2, want: []byte{0xFF, 0xFE}},
		{enc: Int32, v: 0x01020304, want: []byte{0x01, 0x02, 0x03, 0x04}},
		{enc: Float32, v: 1, want: []byte{0x3F, 0x80, 0x00, 0x00}},
		{enc: Float64, v: -2, want: []byte{0xC0, 0x00, 0, 0, 0, 0, 0, 0}},
	}
	for _, host := range hosts {
		for _, tc := range tests {
			t.Run(host.name+"/"+tc.enc.String(), func(t *testing.T) {
				got, err := encodeOn(host.order, []float64{tc.v}, tc.enc)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				if !bytes.Equal(got, tc.want) {
					t.Fatalf("encode(%v) = % X, want % X", tc.v, got, tc.want)
				}
				back, err := decodeOn(host.order, tc.want, tc.enc, 1)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if back[0] != tc.v {
					t.Fatalf("decode = %v, want %v", back[0], tc.v)
				}
			})
		}
	}
}

func TestEncodeRounding(t *testing.T) {
	tests := []struct {
		enc  Encoding
		in   float64
		want float64
	}{
		{enc: Int16, in: 2.5, want: 3},
		{enc: Int16, in: -2.5, want: -3},
		{enc: Int16, in: 2.4, want: 2},
		{enc: Uint8, in: 254.6, want: 255},
		{enc: Uint8, in: -0.4, want: 0},
		{enc: Int32, in: -7.5, want: -8},
	}
	for _, tc := range tests {
		buf, err := Encode([]float64{tc.in}, tc.enc)
		if err != nil {
			t.Fatalf("Encode(%v, %s): %v", tc.in, tc.enc, err)
		}
		got, err := Decode(buf, tc.enc, 1)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got[0] != tc.want {
			t.Fatalf("%s(%v) = %v, want %v", tc.enc, tc.in, got[0], tc.want)
		}
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		enc  Encoding
		v    float64
	}{
		{name: "uint8 high", enc: Uint8, v: 255.6},
		{name: "uint8 negative", enc: Uint8, v: -0.6},
		{name: "int16 high", enc: Int16, v: 32768},
		{name: "int16 low", enc: Int16, v: -32769},
		{name: "int32 high", enc: Int32, v: math.MaxInt32 + 1},
		{name: "int32 nan", enc: Int32, v: math.NaN()},
		{name: "int16 inf", enc: Int16, v: math.Inf(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode([]float64{0, tc.v}, tc.enc)
			if !errors.Is(err, ErrSampleOutOfRange) {
				t.Fatalf("expected ErrSampleOutOfRange, got %v", err)
			}
		})
	}
}

func TestEncodeFloatCastsDirectly(t *testing.T) {
	buf, err := Encode([]float64{math.NaN(), math.Inf(-1), 1e300}, Float32)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf, Float32, 3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !math.IsNaN(got[0]) || !math.IsInf(got[1], -1) || !math.IsInf(got[2], 1) {
		t.Fatalf("unexpected float32 casts %v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(make([]byte, 7), Float64, 1)
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("short buffer: expected ErrUnexpectedEOF, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("short buffer: expected *ParseError, got %T", err)
	}
	if _, err := Decode(make([]byte, 8), Encoding(64), 1); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("bitpix 64: expected ErrUnsupportedEncoding, got %v", err)
	}
	if got, err := Decode(make([]byte, 10), Int16, 2); err != nil || len(got) != 2 {
		t.Fatalf("trailing bytes: got %v, %v", got, err)
	}
}

func TestValidateLength(t *testing.T) {
	for _, enc := range Encodings {
		t.Run(enc.String(), func(t *testing.T) {
			bps := enc.BytesPerSample()
			if err := ValidateLength(make([]byte, 6*bps), 3, 2, enc); err != nil {
				t.Fatalf("exact length: %v", err)
			}
			for _, n := range []int{0, 6*bps - 1, 6*bps + 1, 12 * bps} {
				if err := ValidateLength(make([]byte, n), 3, 2, enc); !errors.Is(err, ErrDimensionsMismatch) {
					t.Fatalf("len %d: expected ErrDimensionsMismatch, got %v", n, err)
				}
			}
			if err := ValidateLength(nil, 0, 0, enc); !errors.Is(err, ErrDimensionsMismatch) {
				t.Fatalf("zero dimensions: expected ErrDimensionsMismatch, got %v", err)
			}
		})
	}
}

func TestNativePixels(t *testing.T) {
	pixels := make([]byte, 8)
	binary.NativeEndian.PutUint16(pixels[0:], uint16(0xFFFF))
	binary.NativeEndian.PutUint16(pixels[2:], 300)
	binary.NativeEndian.PutUint16(pixels[4:], uint16(0x8000))
	binary.NativeEndian.PutUint16(pixels[6:], 7)
	samples, err := SamplesFromPixels(pixels, Int16)
	if err != nil {
		t.Fatalf("SamplesFromPixels: %v", err)
	}
	want := []float64{-1, 300, -32768, 7}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}
	back, err := PixelsFromSamples(samples, Int16)
	if err != nil {
		t.Fatalf("PixelsFromSamples: %v", err)
	}
	if !bytes.Equal(back, pixels) {
		t.Fatalf("pixels % X, want % X", back, pixels)
	}
	if _, err := SamplesFromPixels(pixels[:7], Int16); !errors.Is(err, ErrDimensionsMismatch) {
		t.Fatalf("odd length: expected ErrDimensionsMismatch, got %v", err)
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
		err  bool
	}{
		{in: "", want: EncodingUnset},
		{in: "uint8", want: Uint8},
		{in: "SHORT", want: Int16},
		{in: "int32", want: Int32},
		{in: " float ", want: Float32},
		{in: "double", want: Float64},
		{in: "-64", want: Float64},
		{in: "16", want: Int16},
		{in: "64", err: true},
		{in: "complex", err: true},
	}
	for _, tc := range tests {
		got, err := ParseEncoding(tc.in)
		if tc.err {
			if !errors.Is(err, ErrUnsupportedEncoding) {
				t.Fatalf("ParseEncoding(%q): expected ErrUnsupportedEncoding, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseEncoding(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestSwapSamplesBothHosts(t *testing.T) {
	const bits = 0x7f800001
	for _, host := range hosts {
		t.Run(host.name, func(t *testing.T) {
			pixels := make([]byte, 8)
			host.order.PutUint32(pixels, bits)
			host.order.PutUint32(pixels[4:], 0x01020304)
			data := swapSamples(pixels, Float32, 2, isLittleEndian(host.order))
			if binary.BigEndian.Uint32(data) != bits || binary.BigEndian.Uint32(data[4:]) != 0x01020304 {
				t.Fatalf("data %x is not big-endian", data)
			}
			back := swapSamples(data, Float32, 2, isLittleEndian(host.order))
			if !bytes.Equal(back, pixels) {
				t.Fatalf("round trip %x, want %x", back, pixels)
			}
			if &back[0] == &pixels[0] {
				t.Fatalf("swapSamples aliased its input")
			}
		})
	}
}
