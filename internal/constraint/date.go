package constraint

import (
	"regexp"
	"strings"
	"time"

	"github.com/roach88/cobquec/internal/queryir"
)

var (
	yearOnly   = regexp.MustCompile(`^\d{4}$`)
	yearMonth  = regexp.MustCompile(`^\d{4}-\d{2}$`)
	fullDate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	februaryOv = regexp.MustCompile(`-02-(29|3\d)$`)
	shortMonth = regexp.MustCompile(`-(04|06|09|11)-(3[1-9])$`)
)

// ParseDate normalizes a date literal to YYYY-MM-DD.
//
// YYYY and YYYY-MM are padded with 01. Days past the end of February or of
// a 30-day month are clamped to 28 and 30. Leap years are not considered.
// Months outside 01-12 and days outside the month are rejected.
func ParseDate(s string) (string, error) {
	d := strings.Trim(strings.TrimSpace(s), "()")
	switch {
	case yearOnly.MatchString(d):
		d += "-01-01"
	case yearMonth.MatchString(d):
		d += "-01"
	case fullDate.MatchString(d):
	default:
		return "", queryir.Errorf(queryir.ErrCodeTypeMismatch, s, "invalid date format")
	}
	d = februaryOv.ReplaceAllString(d, "-02-28")
	d = shortMonth.ReplaceAllString(d, "-$1-30")
	if _, err := time.Parse(time.DateOnly, d); err != nil {
		return "", queryir.Errorf(queryir.ErrCodeInvalidQuery, s, "date out of range")
	}
	return d, nil
}
