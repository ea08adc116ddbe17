package fits

import (
	"encoding/binary"
	"math"
)

// hostOrder returns the byte order of the running machine.
func hostOrder() binary.ByteOrder {
	if isLittleEndian(binary.NativeEndian) {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func isLittleEndian(order binary.ByteOrder) bool {
	var buf [2]byte
	order.PutUint16(buf[:], 1)
	return buf[0] == 1
}

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Decode reads count big-endian samples of enc from buf and widens them to
// float64. No BSCALE/BZERO scaling is applied.
func Decode(buf []byte, enc Encoding, count int) ([]float64, error) {
	return decodeOn(hostOrder(), buf, enc, count)
}

// Encode narrows samples to enc and writes them big-endian. Integer
// encodings round half away from zero and reject values outside the
// encoding's range; float encodings are cast directly.
func Encode(samples []float64, enc Encoding) ([]byte, error) {
	return encodeOn(hostOrder(), samples, enc)
}

// decodeOn performs Decode as it would run on a host with the given byte
// order: samples are swapped into host order on little-endian machines and
// then read natively.
func decodeOn(host binary.ByteOrder, buf []byte, enc Encoding, count int) ([]float64, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, validationErr(ErrDimensionsMismatch, "count", "negative sample count %d", count)
	}
	if need := count * enc.BytesPerSample(); len(buf) < need {
		return nil, parseErr(ErrUnexpectedEOF, int64(len(buf)), "%d samples of %s need %d bytes", count, enc, need)
	}
	return readSamples(host, buf, enc, count, isLittleEndian(host)), nil
}

func encodeOn(host binary.ByteOrder, samples []float64, enc Encoding) ([]byte, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	return writeSamples(host, samples, enc, isLittleEndian(host))
}

func readSamples(host binary.ByteOrder, buf []byte, enc Encoding, count int, swap bool) []float64 {
	bps := enc.BytesPerSample()
	out := make([]float64, count)
	var tmp [8]byte
	for i := range out {
		s := tmp[:bps]
		copy(s, buf[i*bps:(i+1)*bps])
		if swap {
			reverse(s)
		}
		switch enc {
		case Uint8:
			out[i] = float64(s[0])
		case Int16:
			out[i] = float64(int16(host.Uint16(s)))
		case Int32:
			out[i] = float64(int32(host.Uint32(s)))
		case Float32:
			out[i] = float64(math.Float32frombits(host.Uint32(s)))
		case Float64:
			out[i] = math.Float64frombits(host.Uint64(s))
		}
	}
	return out
}

func writeSamples(host binary.ByteOrder, samples []float64, enc Encoding, swap bool) ([]byte, error) {
	bps := enc.BytesPerSample()
	out := make([]byte, len(samples)*bps)
	for i, v := range samples {
		s := out[i*bps : (i+1)*bps]
		switch enc {
		case Uint8:
			n, err := narrowInt(v, 0, math.MaxUint8, i, enc)
			if err != nil {
				return nil, err
			}
			s[0] = byte(n)
		case Int16:
			n, err := narrowInt(v, math.MinInt16, math.MaxInt16, i, enc)
			if err != nil {
				return nil, err
			}
			host.PutUint16(s, uint16(int16(n)))
		case Int32:
			n, err := narrowInt(v, math.MinInt32, math.MaxInt32, i, enc)
			if err != nil {
				return nil, err
			}
			host.PutUint32(s, uint32(int32(n)))
		case Float32:
			host.PutUint32(s, math.Float32bits(float32(v)))
		case Float64:
			host.PutUint64(s, math.Float64bits(v))
		}
		if swap {
			reverse(s)
		}
	}
	return out, nil
}

func narrowInt(v float64, lo, hi int64, index int, enc Encoding) (int64, error) {
	if math.IsNaN(v) {
		return 0, validationErr(ErrSampleOutOfRange, "", "sample %d is NaN, not representable as %s", index, enc)
	}
	r := math.Round(v)
	if r < float64(lo) || r > float64(hi) {
		return 0, validationErr(ErrSampleOutOfRange, "", "sample %d = %v outside [%d, %d] for %s", index, v, lo, hi, enc)
	}
	return int64(r), nil
}

// swapSamples copies count samples of enc from src, reversing the bytes of
// each sample when swap is set. Pixels move between host order and the
// big-endian data segment this way, so float payloads such as signalling
// NaNs come back bit for bit.
func swapSamples(src []byte, enc Encoding, count int, swap bool) []byte {
	bps := enc.BytesPerSample()
	out := append([]byte(nil), src[:count*bps]...)
	if swap && bps > 1 {
		for i := 0; i < len(out); i += bps {
			reverse(out[i : i+bps])
		}
	}
	return out
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// ValidateLength checks that buf holds exactly width*height samples of enc.
func ValidateLength(buf []byte, width, height int, enc Encoding) error {
	if err := enc.Validate(); err != nil {
		return err
	}
	if width < 1 || height < 1 {
		return validationErr(ErrDimensionsMismatch, "", "dimensions %dx%d must be positive", width, height)
	}
	want := int64(width) * int64(height) * int64(enc.BytesPerSample())
	if int64(len(buf)) != want {
		return validationErr(ErrDimensionsMismatch, "", "%dx%d %s needs %d bytes, got %d", width, height, enc, want, len(buf))
	}
	return nil
}

// SamplesFromPixels widens a host-order pixel buffer of enc to float64.
func SamplesFromPixels(pixels []byte, enc Encoding) ([]float64, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	bps := enc.BytesPerSample()
	if len(pixels)%bps != 0 {
		return nil, validationErr(ErrDimensionsMismatch, "", "%d bytes is not a whole number of %s samples", len(pixels), enc)
	}
	return readSamples(hostOrder(), pixels, enc, len(pixels)/bps, false), nil
}

// PixelsFromSamples narrows samples to a host-order pixel buffer of enc,
// with the same rounding and range rules as Encode.
func PixelsFromSamples(samples []float64, enc Encoding) ([]byte, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	return writeSamples(hostOrder(), samples, enc, false)
}
