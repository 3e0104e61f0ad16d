package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// Frequency is the index calculation frequency.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// PeriodsPerYear returns how many periods of this frequency make up a year.
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case FrequencyQuarterly:
		return 4
	case FrequencyAnnual:
		return 1
	default:
		return 12
	}
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return true
	}
	return false
}

// ParseFrequency converts a configuration string into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", calcerr.Validation("period", s, "unknown frequency %q", s)
	}
	return f, nil
}

// Period is one time bucket of an index series.
type Period struct {
	Start     time.Time `json:"start"`
	Frequency Frequency `json:"frequency"`
}

// PeriodOf returns the period of frequency f that contains date d.
func PeriodOf(d time.Time, f Frequency) Period {
	y, m, _ := d.Date()
	switch f {
	case FrequencyAnnual:
		m = time.January
	case FrequencyQuarterly:
		m = time.Month((int(m)-1)/3*3 + 1)
	}
	return Period{Start: time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), Frequency: f}
}

// Next returns the period that follows p.
func (p Period) Next() Period {
	months := 12 / p.Frequency.PeriodsPerYear()
	return Period{Start: p.Start.AddDate(0, months, 0), Frequency: p.Frequency}
}

// End returns the first instant after the period.
func (p Period) End() time.Time {
	return p.Next().Start
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d time.Time) bool {
	return !d.Before(p.Start) && d.Before(p.End())
}

// Key renders the period as "2018-01", "2018-Q1" or "2018".
func (p Period) Key() string {
	y, m, _ := p.Start.Date()
	switch p.Frequency {
	case FrequencyAnnual:
		return strconv.Itoa(y)
	case FrequencyQuarterly:
		return fmt.Sprintf("%d-Q%d", y, (int(m)-1)/3+1)
	default:
		return fmt.Sprintf("%d-%02d", y, int(m))
	}
}

func (p Period) String() string {
	return p.Key()
}

// ParsePeriod parses a key produced by Period.Key. The frequency is inferred
// from the key format.
func ParsePeriod(key string) (Period, error) {
	key = strings.TrimSpace(key)
	switch {
	case len(key) == 4:
		y, err := strconv.Atoi(key)
		if err != nil {
			return Period{}, calcerr.Validation("period", key, "invalid year")
		}
		return Period{Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), Frequency: FrequencyAnnual}, nil
	case len(key) == 7 && key[5] == 'Q':
		y, err := strconv.Atoi(key[:4])
		q, qErr := strconv.Atoi(key[6:])
		if err != nil || qErr != nil || q < 1 || q > 4 || key[4] != '-' {
			return Period{}, calcerr.Validation("period", key, "invalid quarter")
		}
		return Period{Start: time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), Frequency: FrequencyQuarterly}, nil
	case len(key) == 7:
		t, err := time.Parse("2006-01", key)
		if err != nil {
			return Period{}, calcerr.Validation("period", key, "invalid month")
		}
		return Period{Start: t, Frequency: FrequencyMonthly}, nil
	default:
		return Period{}, calcerr.Validation("period", key, "unrecognised period key")
	}
}

// PeriodRange returns every period of frequency f from the one containing
// from through the one containing to, inclusive.
func PeriodRange(f Frequency, from, to time.Time) []Period {
	if to.Before(from) {
		return nil
	}
	last := PeriodOf(to, f)
	var periods []Period
	for p := PeriodOf(from, f); !p.Start.After(last.Start); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}
