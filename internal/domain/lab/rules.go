package lab

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DeltaLimitPercent is the largest change from the previous result that is
// not flagged.
const DeltaLimitPercent = 50.0

// ReferenceRange is the snapshotted normal range. Text is kept verbatim;
// Low, High and Units are only meaningful when Parsed is true.
type ReferenceRange struct {
	Text   string  `json:"text"`
	Low    float64 `json:"low,omitempty"`
	High   float64 `json:"high,omitempty"`
	Units  string  `json:"units,omitempty"`
	Parsed bool    `json:"parsed"`
}

var rangePattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*-\s*(-?\d+(?:\.\d+)?)\s*(.*?)\s*$`)

// ParseReferenceRange reads "<low> - <high> <units>". Anything else yields an
// unparsed range that never marks a result abnormal.
func ParseReferenceRange(text string) ReferenceRange {
	rr := ReferenceRange{Text: text}
	m := rangePattern.FindStringSubmatch(text)
	if m == nil {
		return rr
	}
	low, err1 := strconv.ParseFloat(m[1], 64)
	high, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || low > high {
		return rr
	}
	rr.Low, rr.High, rr.Units, rr.Parsed = low, high, m[3], true
	return rr
}

// Outside reports whether v falls outside [Low, High].
func (r ReferenceRange) Outside(v float64) bool {
	if !r.Parsed {
		return false
	}
	return v < r.Low || v > r.High
}

// DeltaExceeded compares a new result with the previous one. A zero previous
// value has no defined percentage change and is never flagged.
func DeltaExceeded(prev, cur float64) bool {
	if prev == 0 {
		return false
	}
	return math.Abs(cur-prev)/math.Abs(prev)*100 > DeltaLimitPercent
}

// coerceResult turns numeric-looking text into a number. Other text is kept
// as a qualitative result.
func coerceResult(v ResultValue) ResultValue {
	if v.Numeric != nil {
		return v
	}
	s := strings.TrimSpace(v.Text)
	if s == "" {
		return v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return v
	}
	return NumericResult(f)
}
