package dates

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Numeric ranges recognised by Normalize. Bounds are inclusive and do not overlap.
const (
	SerialMin      = 1
	SerialMax      = 100_000
	UnixSecondsMin = 1_000_000_000
	UnixSecondsMax = 9_999_999_999
	UnixMillisMin  = 1_000_000_000_000
	UnixMillisMax  = 9_999_999_999_999
)

// Serials count days from 1899-12-30. The numbering treats 1900 as a leap
// year, so serials before the phantom 1900-02-29 (serial 60) land one day
// later than the raw offset.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const phantomLeapSerial = 61

// Diagnostic records why a value could not be normalized.
type Diagnostic struct {
	Raw    string `json:"raw"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("unrecognised date %q (%s): %s", d.Raw, d.Type, d.Reason)
}

var (
	isoPattern      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	numericPattern  = regexp.MustCompile(`^(\d{1,2})([/-])(\d{1,2})([/-])(\d{4})$`)
	monthAbbPattern = regexp.MustCompile(`^(\d{1,2})[/\- ]([A-Za-z]{3,4})\.?[/\- ](\d{4})$`)
)

var monthAbbreviations = map[string]time.Month{
	"ene": time.January, "jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"abr": time.April, "apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"ago": time.August, "aug": time.August,
	"sep": time.September, "set": time.September, "sept": time.September,
	"oct": time.October,
	"nov": time.November,
	"dic": time.December, "dec": time.December,
}

var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/1/2",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
}

var placeholders = map[string]struct{}{
	"":          {},
	"n/a":       {},
	"na":        {},
	"-":         {},
	"undefined": {},
	"null":      {},
	"sin fecha": {},
}

// Normalize converts a raw date-like value into a CanonicalDate. It never
// panics and never guesses: anything it cannot place returns the unknown date
// together with a Diagnostic describing the input.
func Normalize(raw any) (CanonicalDate, *Diagnostic) {
	switch v := raw.(type) {
	case nil:
		return unknown(raw, "empty")
	case time.Time:
		if v.IsZero() {
			return unknown(raw, "zero time")
		}
		return FromTime(v), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return unknown(raw, "zero time")
		}
		return FromTime(*v), nil
	case CanonicalDate:
		if !v.IsKnown() {
			return unknown(raw, "empty")
		}
		return v, nil
	case string:
		return normalizeString(raw, v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return unknown(raw, "malformed number")
		}
		return normalizeNumber(raw, f)
	}

	if f, ok := toFloat(raw); ok {
		return normalizeNumber(raw, f)
	}
	return unknown(raw, "unsupported type")
}

// String is a convenience wrapper returning the canonical string form.
func String(raw any) string {
	d, _ := Normalize(raw)
	return d.String()
}

func normalizeNumber(raw any, f float64) (CanonicalDate, *Diagnostic) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return unknown(raw, "not a finite number")
	}
	switch {
	case f >= SerialMin && f <= SerialMax:
		return fromSerial(f), nil
	case f >= UnixSecondsMin && f <= UnixSecondsMax:
		return FromTime(time.Unix(int64(f), 0).UTC()), nil
	case f >= UnixMillisMin && f <= UnixMillisMax:
		return FromTime(time.UnixMilli(int64(f)).UTC()), nil
	}
	return unknown(raw, "number outside serial and epoch ranges")
}

func fromSerial(f float64) CanonicalDate {
	days := int(math.Floor(f))
	if days < phantomLeapSerial {
		days++
	}
	return FromTime(serialEpoch.AddDate(0, 0, days))
}

func normalizeString(raw any, s string) (CanonicalDate, *Diagnostic) {
	clean := strings.TrimSpace(s)
	if _, ok := placeholders[strings.ToLower(clean)]; ok {
		return unknown(raw, "empty")
	}

	if m := isoPattern.FindStringSubmatch(clean); m != nil {
		if d, ok := civil(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return d, nil
		}
		return unknown(raw, "invalid calendar day")
	}

	if m := numericPattern.FindStringSubmatch(clean); m != nil && m[2] == m[4] {
		first, second, year := atoi(m[1]), atoi(m[3]), atoi(m[5])
		day, month := dayMonth(first, second)
		if d, ok := civil(year, month, day); ok {
			return d, nil
		}
		return unknown(raw, "invalid calendar day")
	}

	if m := monthAbbPattern.FindStringSubmatch(clean); m != nil {
		if month, ok := monthAbbreviations[strings.ToLower(m[2])]; ok {
			if d, ok := civil(atoi(m[3]), int(month), atoi(m[1])); ok {
				return d, nil
			}
			return unknown(raw, "invalid calendar day")
		}
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, clean); err == nil {
			return FromTime(t), nil
		}
	}
	return unknown(raw, "unrecognised format")
}

// dayMonth resolves D/M vs M/D. A component above 12 must be the day; when
// both fit either role the day-first convention of the source data wins.
func dayMonth(first, second int) (day, month int) {
	switch {
	case first > 12:
		return first, second
	case second > 12:
		return second, first
	default:
		return first, second
	}
}

func civil(year, month, day int) (CanonicalDate, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return CanonicalDate{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return CanonicalDate{}, false
	}
	return FromTime(t), true
}

func unknown(raw any, reason string) (CanonicalDate, *Diagnostic) {
	return CanonicalDate{}, &Diagnostic{
		Raw:    fmt.Sprintf("%v", raw),
		Type:   fmt.Sprintf("%T", raw),
		Reason: reason,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
