package fits

import (
	"strconv"
	"strings"
)

const (
	CardSize      = 80
	BlockSize     = 2880
	CardsPerBlock = BlockSize / CardSize

	keywordLen     = 8
	valueStart     = 10
	fixedValueEnd  = 30
	minStringChars = 8
)

// Card is one 80-byte header record.
type Card struct {
	Keyword string
	Value   Value
	Comment string
}

// ValidateKeyword checks the FITS keyword charset: 1-8 characters from
// A-Z, 0-9, hyphen and underscore.
func ValidateKeyword(kw string) error {
	if kw == "" {
		return validationErr(ErrMalformedCard, kw, "empty keyword")
	}
	if len(kw) > keywordLen {
		return validationErr(ErrMalformedCard, kw, "keyword longer than %d characters", keywordLen)
	}
	for i := 0; i < len(kw); i++ {
		if !isKeywordChar(kw[i]) {
			return validationErr(ErrMalformedCard, kw, "invalid keyword character %q", kw[i])
		}
	}
	return nil
}

func isKeywordChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isCommentary(kw string) bool {
	return kw == "" || kw == "COMMENT" || kw == "HISTORY"
}

func isPrintable(c byte) bool {
	return c >= 0x20 && c <= 0x7E
}

// ParseCard decodes a single 80-byte card. The boolean result is false for
// cards that carry no key/value pair (blank, COMMENT and HISTORY cards);
// those are dropped by the header readers.
func ParseCard(raw []byte) (Card, bool, error) {
	if len(raw) != CardSize {
		return Card{}, false, parseErr(ErrMalformedCard, 0, "card is %d bytes, want %d", len(raw), CardSize)
	}
	for i, c := range raw {
		if !isPrintable(c) {
			return Card{}, false, parseErr(ErrMalformedCard, int64(i), "non-printable byte 0x%02X in column %d", c, i+1)
		}
	}
	kw := strings.TrimRight(string(raw[:keywordLen]), " ")
	if isCommentary(strings.TrimSpace(kw)) {
		return Card{Keyword: strings.TrimSpace(kw)}, false, nil
	}
	for i := 0; i < len(kw); i++ {
		if !isKeywordChar(kw[i]) {
			return Card{}, false, parseErr(ErrMalformedCard, int64(i), "invalid keyword %q", kw)
		}
	}
	card := Card{Keyword: kw}
	if raw[keywordLen] != '=' {
		card.Comment = strings.TrimSpace(string(raw[keywordLen:]))
		return card, true, nil
	}
	v, comment, err := parseValueField(string(raw[valueStart:]))
	if err != nil {
		return Card{}, false, err
	}
	card.Value = v
	card.Comment = comment
	return card, true, nil
}

func parseValueField(field string) (Value, string, error) {
	s := strings.TrimLeft(field, " ")
	if s == "" {
		return Undefined(), "", nil
	}
	if s[0] == '\'' {
		str, rest, ok := scanQuoted(s)
		if !ok {
			return Value{}, "", parseErr(ErrMalformedCard, valueStart, "unterminated string value")
		}
		comment := ""
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			comment = strings.TrimSpace(rest[i+1:])
		}
		return String(strings.TrimRight(str, " ")), comment, nil
	}
	token, comment := s, ""
	if i := strings.IndexByte(s, '/'); i >= 0 {
		token = s[:i]
		comment = strings.TrimSpace(s[i+1:])
	}
	return inferValue(strings.TrimSpace(token)), comment, nil
}

// scanQuoted reads a quoted string starting at s[0], collapsing doubled
// quotes, and returns the remainder after the closing quote.
func scanQuoted(s string) (string, string, bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c != '\'' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), s[i+1:], true
	}
	return "", "", false
}

// inferValue types an unquoted token: logical, then integer, then float,
// falling back to a string.
func inferValue(token string) Value {
	switch token {
	case "":
		return Undefined()
	case "T":
		return Bool(true)
	case "F":
		return Bool(false)
	}
	if isIntegerToken(token) {
		if n, err := strconv.ParseInt(token, 10, 64); err == nil {
			return Int(n)
		}
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return Float(f)
		}
	}
	if strings.ContainsAny(token, ".EeDd") {
		norm := strings.NewReplacer("D", "E", "d", "e").Replace(token)
		if f, err := strconv.ParseFloat(norm, 64); err == nil {
			return Float(f)
		}
	}
	return String(token)
}

func isIntegerToken(s string) bool {
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatCard renders c as exactly 80 bytes. Numeric and logical values are
// right-justified to column 30, strings start at column 11. A comment that
// does not fit is truncated.
func FormatCard(c Card) ([]byte, error) {
	if err := ValidateKeyword(c.Keyword); err != nil {
		return nil, err
	}
	field, err := formatValueField(c.Keyword, c.Value)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, CardSize)
	line = append(line, padRight(c.Keyword, keywordLen)...)
	line = append(line, "= "...)
	line = append(line, field...)
	if c.Comment != "" {
		for i := 0; i < len(c.Comment); i++ {
			if !isPrintable(c.Comment[i]) {
				return nil, validationErr(ErrMalformedCard, c.Keyword, "non-printable byte in comment")
			}
		}
		if room := CardSize - len(line) - 3; room > 0 {
			comment := c.Comment
			if len(comment) > room {
				comment = comment[:room]
			}
			line = append(line, " / "...)
			line = append(line, comment...)
		}
	}
	return []byte(padRight(string(line), CardSize)), nil
}

func formatValueField(kw string, v Value) (string, error) {
	width := fixedValueEnd - valueStart
	switch v.Kind {
	case KindUndefined:
		return strings.Repeat(" ", width), nil
	case KindString:
		for i := 0; i < len(v.Str); i++ {
			if !isPrintable(v.Str[i]) {
				return "", validationErr(ErrMalformedCard, kw, "non-printable byte in string value")
			}
		}
		escaped := strings.ReplaceAll(v.Str, "'", "''")
		field := "'" + padRight(escaped, minStringChars) + "'"
		if len(field) > CardSize-valueStart {
			return "", validationErr(ErrMalformedCard, kw, "string value needs %d columns, only %d available", len(field), CardSize-valueStart)
		}
		return field, nil
	case KindFloat:
		if isNonFinite(v.Float) {
			return "", validationErr(ErrMalformedCard, kw, "float value %v has no FITS representation", v.Float)
		}
	}
	return padLeft(v.String(), width), nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}
