package fits

import (
	"strconv"
	"strings"
)

// Encoding is a pixel sample format, identified by its BITPIX code.
type Encoding int

const (
	EncodingUnset Encoding = 0
	Uint8         Encoding = 8
	Int16         Encoding = 16
	Int32         Encoding = 32
	Float32       Encoding = -32
	Float64       Encoding = -64

	// DefaultEncoding applies when neither an explicit option nor BITPIX
	// selects one.
	DefaultEncoding = Float32
)

// Encodings lists the supported sample formats.
var Encodings = []Encoding{Uint8, Int16, Int32, Float32, Float64}

// BytesPerSample returns the sample width, or 0 for unsupported codes.
func (e Encoding) BytesPerSample() int {
	switch e {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Valid reports whether e is one of the supported encodings.
func (e Encoding) Valid() bool {
	return e.BytesPerSample() != 0
}

func (e Encoding) IsFloat() bool {
	return e == Float32 || e == Float64
}

// Validate returns an UnsupportedEncoding error for anything but the five
// supported BITPIX codes.
func (e Encoding) Validate() error {
	if !e.Valid() {
		return validationErr(ErrUnsupportedEncoding, "BITPIX", "code %d", int(e))
	}
	return nil
}

func (e Encoding) String() string {
	switch e {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case EncodingUnset:
		return "unset"
	}
	return "bitpix(" + strconv.Itoa(int(e)) + ")"
}

// ParseEncoding accepts either a type name (uint8, int16, int32, float32,
// float64, plus the aliases byte, short, int, float, double) or a BITPIX
// number. An empty string yields EncodingUnset.
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return EncodingUnset, nil
	case "uint8", "byte", "u8":
		return Uint8, nil
	case "int16", "short", "i16":
		return Int16, nil
	case "int32", "int", "i32":
		return Int32, nil
	case "float32", "float", "f32":
		return Float32, nil
	case "float64", "double", "f64":
		return Float64, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return EncodingUnset, validationErr(ErrUnsupportedEncoding, "encoding", "unknown encoding %q", s)
	}
	e := Encoding(n)
	if err := e.Validate(); err != nil {
		return EncodingUnset, err
	}
	return e, nil
}
