package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is the year-month a charge belongs to.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

var (
	labelPattern   = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	storagePattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
)

// ParsePeriod accepts "MM/YYYY" or "YYYY-MM". The whole input must match.
func ParsePeriod(raw string) (Period, error) {
	raw = strings.TrimSpace(raw)
	var year, month int
	if m := labelPattern.FindStringSubmatch(raw); m != nil {
		month, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[2])
	} else if m := storagePattern.FindStringSubmatch(raw); m != nil {
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
	} else {
		return Period{}, fmt.Errorf("ledger: invalid billing period %q", raw)
	}
	if month < 1 || month > 12 || year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("ledger: invalid billing period %q", raw)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// String renders the storage form YYYY-MM.
func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Label renders the display form MM/YYYY.
func (p Period) Label() string {
	return fmt.Sprintf("%02d/%04d", int(p.Month), p.Year)
}

// AddMonths shifts the period by n months.
func (p Period) AddMonths(n int) Period {
	t := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return PeriodOf(t)
}

// After reports whether p is strictly later than o.
func (p Period) After(o Period) bool {
	if p.Year != o.Year {
		return p.Year > o.Year
	}
	return p.Month > o.Month
}

// Start returns the first instant of the period in loc.
func (p Period) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// Days returns the number of days in the period.
func (p Period) Days() int {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date returns the given day of the period in loc.
func (p Period) Date(day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, loc)
}

// MarshalJSON encodes the period as "YYYY-MM".
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes either accepted form; an empty string leaves the zero period.
func (p *Period) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
