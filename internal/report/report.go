package report

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/fits"
)

// HDUSummary describes one HDU without its data.
type HDUSummary struct {
	Index     int         `json:"index"`
	Kind      string      `json:"kind"`
	Bitpix    int64       `json:"bitpix"`
	Encoding  string      `json:"encoding"`
	Axes      []int       `json:"axes"`
	DataBytes int         `json:"dataBytes"`
	Cards     int         `json:"cards"`
	Header    fits.Header `json:"header"`
	Stats     *fits.Stats `json:"stats,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Summary is the per-file report produced by fitsctl report and fitsd.
type Summary struct {
	File      string       `json:"file"`
	Size      int64        `json:"size"`
	SHA256    string       `json:"sha256"`
	BLAKE3    string       `json:"blake3"`
	CreatedAt time.Time    `json:"createdAt"`
	Valid     bool         `json:"valid"`
	Error     string       `json:"error,omitempty"`
	HDUs      []HDUSummary `json:"hdus"`
}

// SummarizeHDU describes h. When withStats is set, image HDUs are decoded to
// compute sample statistics; a decode failure is recorded in Error.
func SummarizeHDU(index int, h fits.HDU, withStats bool) HDUSummary {
	bitpix, _ := h.Header["BITPIX"].AsInt()
	s := HDUSummary{
		Index:     index,
		Kind:      h.Kind(),
		Bitpix:    bitpix,
		Encoding:  h.Encoding.String(),
		Axes:      h.Axes,
		DataBytes: len(h.Data),
		Cards:     len(h.Cards),
		Header:    h.Header,
	}
	if !withStats || !h.IsImage() {
		return s
	}
	img, err := h.Image()
	if err != nil {
		s.Error = err.Error()
		return s
	}
	st, err := img.Stats()
	if err != nil {
		s.Error = err.Error()
		return s
	}
	if finite(st.Min) && finite(st.Max) && finite(st.Mean) {
		s.Stats = &st
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// SummarizeHDUs describes every HDU in order.
func SummarizeHDUs(hdus []fits.HDU, withStats bool) []HDUSummary {
	out := make([]HDUSummary, len(hdus))
	for i, h := range hdus {
		out[i] = SummarizeHDU(i, h, withStats)
	}
	return out
}

// Summarize digests and parses path. A file that fails to parse still yields
// a summary with Valid false; only I/O failures are returned as errors.
func Summarize(path string, opts fits.ReadOptions) (Summary, error) {
	d, err := common.DigestFile(path)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		File:      path,
		Size:      d.Size,
		SHA256:    d.SHA256,
		BLAKE3:    d.BLAKE3,
		CreatedAt: time.Now().UTC(),
	}
	hdus, err := fits.ReadFile(path, opts)
	if err != nil {
		s.Error = err.Error()
		return s, nil
	}
	s.Valid = true
	s.HDUs = SummarizeHDUs(hdus, true)
	return s, nil
}

func SaveJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}
