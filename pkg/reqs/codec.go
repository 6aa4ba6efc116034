package reqs

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Align is the display alignment of a requisite column.
type Align string

const (
	AlignLeft   Align = "LEFT"
	AlignCenter Align = "CENTER"
	AlignRight  Align = "RIGHT"
)

const nullSentinel = "NULL"

var (
	isoDateRe   = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})$`)
	slashDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
)

// Decode converts a user-supplied value into its storage representation for
// the given type. tzOffset is the client/server offset in seconds as carried
// by the tzone cookie. The literal NULL sentinel is never transformed.
func Decode(typeID int64, raw string, tzOffset int64) string {
	if raw == nullSentinel {
		return raw
	}
	switch typeID {
	case TypeDate:
		return decodeDate(raw)
	case TypeDatetime:
		return decodeDatetime(raw, tzOffset)
	case TypeNumber:
		return decodeNumber(raw)
	case TypeSigned:
		return decodeSigned(raw)
	case TypeBoolean:
		return decodeBoolean(raw)
	}
	return raw
}

// Encode converts a stored value into its display representation.
func Encode(typeID int64, stored string, tzOffset int64) string {
	if stored == nullSentinel {
		return stored
	}
	switch typeID {
	case TypeDate:
		return encodeDate(stored, tzOffset)
	case TypeDatetime:
		return encodeDatetime(stored, tzOffset)
	case TypeBoolean:
		if stored == "" {
			return ""
		}
		return "X"
	case TypePassword:
		return ""
	}
	return stored
}

// Alignment returns the display alignment for a type.
func Alignment(typeID int64) Align {
	switch typeID {
	case TypeNumber, TypeSigned:
		return AlignRight
	case TypeDate, TypeDatetime, TypeBoolean:
		return AlignCenter
	}
	return AlignLeft
}

func decodeDate(raw string) string {
	v := strings.TrimSpace(raw)
	if m := isoDateRe.FindStringSubmatch(v); m != nil {
		return m[1] + pad2(m[2]) + pad2(m[3])
	}
	if m := slashDateRe.FindStringSubmatch(v); m != nil {
		year := m[3]
		if len(year) == 2 {
			if n, _ := strconv.Atoi(year); n < 50 {
				year = "20" + year
			} else {
				year = "19" + year
			}
		}
		return year + pad2(m[2]) + pad2(m[1])
	}
	return raw
}

func encodeDate(stored string, tzOffset int64) string {
	if len(stored) > 8 {
		// A DATETIME landed in a DATE-typed field: stored as a Unix timestamp.
		sec, err := strconv.ParseInt(stored, 10, 64)
		if err != nil {
			return stored
		}
		return time.Unix(sec+tzOffset, 0).UTC().Format("02.01.2006 15:04")
	}
	if len(stored) == 8 && digitsRe.MatchString(stored) {
		return stored[6:8] + "." + stored[4:6] + "." + stored[0:4]
	}
	return stored
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"02/01/2006 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

func decodeDatetime(raw string, tzOffset int64) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return raw
	}
	if f, err := strconv.ParseFloat(stripSeparators(v), 64); err == nil && f > 10000 {
		return strconv.FormatInt(int64(f)-tzOffset, 10)
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return strconv.FormatInt(t.Unix()-tzOffset, 10)
		}
	}
	return raw
}

func encodeDatetime(stored string, tzOffset int64) string {
	sec, err := strconv.ParseInt(strings.TrimSpace(stored), 10, 64)
	if err != nil {
		return stored
	}
	return time.Unix(sec+tzOffset, 0).UTC().Format("02.01.2006 15:04")
}

func stripSeparators(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '\'', ' ', ' ':
			return -1
		}
		return r
	}, v)
}

func decodeNumber(raw string) string {
	n, err := strconv.ParseInt(stripSeparators(raw), 10, 64)
	if err != nil || n == 0 {
		// Zero stands for "no value" and must stay distinguishable from a
		// stored literal zero, so the input passes through untouched.
		return raw
	}
	return strconv.FormatInt(n, 10)
}

func decodeSigned(raw string) string {
	f, err := strconv.ParseFloat(stripSeparators(raw), 64)
	if err != nil || f == 0 {
		return raw
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func decodeBoolean(raw string) string {
	switch raw {
	case "", "false", "-1", " ":
		return ""
	}
	return "1"
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
