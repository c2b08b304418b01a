/*
period.go - Calendar month used as the accrual key

PURPOSE:
  Accrual happens once per calendar month. Period is the (year, month) pair
  stored as an account's last_accrual_period and compared with plain
  ordering: a period is credited iff last_accrual_period >= period.

FORMAT:
  Text form is "YYYY-MM" (zero padded), so lexical ordering matches
  chronological ordering. Stores rely on that for SQL comparisons.

SEE ALSO:
  - accrual.go: Uses Period for compare-and-set crediting
  - time.go: Clock, used to derive the current period
*/
package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// Period is a calendar month. The zero value means "never".
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the period containing t, in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM". Empty input yields the zero period.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return Period{}, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Code: "invalid_period", Message: fmt.Sprintf("period %q must be YYYY-MM", s)}
	}
	return PeriodOf(t), nil
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Valid reports whether p names a real month.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Year <= 9999 && p.Month >= time.January && p.Month <= time.December
}

func (p Period) index() int { return p.Year*12 + int(p.Month) - 1 }

func (p Period) Before(other Period) bool { return p.index() < other.index() }
func (p Period) After(other Period) bool  { return p.index() > other.index() }
func (p Period) Equal(other Period) bool  { return p.index() == other.index() }

func (p Period) Next() Period {
	t := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return PeriodOf(t)
}

func (p Period) Prev() Period {
	t := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return PeriodOf(t)
}

// Start returns the first day of the month.
func (p Period) Start() Date { return NewDate(p.Year, p.Month, 1) }

// End returns the last day of the month.
func (p Period) End() Date { return p.Next().Start().AddDays(-1) }

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(p.String())
}

func (p *Period) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Period{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
