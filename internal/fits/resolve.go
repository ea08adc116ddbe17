package fits

import (
	"math"
	"strconv"
)

// maxAxes is the largest NAXIS the standard allows.
const maxAxes = 999

// GetDimensions returns NAXIS1 and NAXIS2 from h. Both must be present as
// non-negative Integer values.
func GetDimensions(h Header) (width, height int, err error) {
	if width, err = axisLength(h, "NAXIS1"); err != nil {
		return 0, 0, err
	}
	if height, err = axisLength(h, "NAXIS2"); err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func axisLength(h Header, key string) (int, error) {
	v, ok := h[key]
	if !ok {
		return 0, validationErr(ErrMissingDimensions, key, "keyword absent")
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, validationErr(ErrMissingDimensions, key, "want integer, got %s", v.Kind)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, validationErr(ErrMissingDimensions, key, "axis length %d out of range", n)
	}
	return int(n), nil
}

// ResolveEncoding picks the sample encoding: explicit when set, otherwise the
// header's BITPIX, otherwise def (DefaultEncoding when def is unset).
func ResolveEncoding(explicit Encoding, h Header, def Encoding) (Encoding, error) {
	if explicit != EncodingUnset {
		return explicit, explicit.Validate()
	}
	if v, ok := h["BITPIX"]; ok {
		n, ok := v.AsInt()
		if !ok {
			return EncodingUnset, validationErr(ErrUnsupportedEncoding, "BITPIX", "want integer, got %s", v.Kind)
		}
		enc := Encoding(n)
		return enc, enc.Validate()
	}
	if def == EncodingUnset {
		def = DefaultEncoding
	}
	return def, def.Validate()
}

// Axes returns the NAXISn lengths in axis order. NAXIS=0 yields an empty
// slice.
func Axes(h Header) ([]int, error) {
	naxis, err := intKey(h, "NAXIS", ErrMissingDimensions)
	if err != nil {
		return nil, err
	}
	if naxis < 0 || naxis > maxAxes {
		return nil, validationErr(ErrMissingDimensions, "NAXIS", "axis count %d out of range", naxis)
	}
	axes := make([]int, naxis)
	for i := range axes {
		n, err := axisLength(h, "NAXIS"+strconv.Itoa(i+1))
		if err != nil {
			return nil, err
		}
		axes[i] = n
	}
	return axes, nil
}

// DataSize returns the unpadded length of the data segment described by h:
// |BITPIX|/8 * GCOUNT * (PCOUNT + NAXIS1*...*NAXISn), or 0 when NAXIS is 0.
// Any BITPIX the standard defines is accepted here so that HDUs with
// unsupported sample types can still be framed.
func DataSize(h Header) (int64, error) {
	bitpix, err := intKey(h, "BITPIX", ErrUnsupportedEncoding)
	if err != nil {
		return 0, err
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return 0, validationErr(ErrUnsupportedEncoding, "BITPIX", "code %d", bitpix)
	}
	axes, err := Axes(h)
	if err != nil {
		return 0, err
	}
	if len(axes) == 0 {
		return 0, nil
	}
	pcount, err := optionalInt(h, "PCOUNT", 0)
	if err != nil {
		return 0, err
	}
	gcount, err := optionalInt(h, "GCOUNT", 1)
	if err != nil {
		return 0, err
	}
	elems := int64(1)
	for _, n := range axes {
		if elems, err = mulChecked(elems, int64(n)); err != nil {
			return 0, err
		}
	}
	total, err := mulChecked(gcount, pcount+elems)
	if err != nil {
		return 0, err
	}
	width := bitpix
	if width < 0 {
		width = -width
	}
	return mulChecked(total, width/8)
}

func intKey(h Header, key string, sentinel error) (int64, error) {
	v, ok := h[key]
	if !ok {
		return 0, validationErr(sentinel, key, "keyword absent")
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, validationErr(sentinel, key, "want integer, got %s", v.Kind)
	}
	return n, nil
}

func optionalInt(h Header, key string, def int64) (int64, error) {
	v, ok := h[key]
	if !ok {
		return def, nil
	}
	n, ok := v.AsInt()
	if !ok || n < 0 {
		return 0, validationErr(ErrDimensionsMismatch, key, "want non-negative integer, got %s", v)
	}
	return n, nil
}

func mulChecked(a, b int64) (int64, error) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, validationErr(ErrDimensionsMismatch, "", "data size %d*%d overflows", a, b)
	}
	return a * b, nil
}
