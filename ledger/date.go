package ledger

import (
	"time"
)

// =============================================================================
// DATE - Calendar-day granularity (all ledger dates are whole days)
// =============================================================================

type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{Time: d.Time.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

func (d Date) String() string {
	return d.normalize().Format("2006-01-02")
}

// =============================================================================
// FREQUENCY - Recurrence stepping
// =============================================================================

type FrequencyUnit string

const (
	Daily   FrequencyUnit = "daily"
	Weekly  FrequencyUnit = "weekly"
	Monthly FrequencyUnit = "monthly"
	Yearly  FrequencyUnit = "yearly"
)

// Frequency is a recurrence step: unit plus an interval multiplier
// (e.g. {Weekly, 2} = every two weeks). Interval <= 0 is treated as 1.
type Frequency struct {
	Unit     FrequencyUnit
	Interval int
}

func (f Frequency) steps() int {
	if f.Interval <= 0 {
		return 1
	}
	return f.Interval
}

// Step advances a date by one frequency interval.
func (d Date) Step(f Frequency) Date {
	n := f.steps()
	switch f.Unit {
	case Daily:
		return d.AddDays(n)
	case Weekly:
		return d.AddDays(7 * n)
	case Yearly:
		return d.AddYears(n)
	default: // Monthly
		return d.AddMonths(n)
	}
}

// =============================================================================
// TIME FILTER - Half-open window for aggregate queries
// =============================================================================

// TimeFilter bounds an aggregate query. Zero From/To mean open-ended;
// read paths additionally clamp To at "now" so future-dated transactions
// never leak into displayed totals.
type TimeFilter struct {
	From Date
	To   Date
}

// Contains returns true if the date is within [From, To], treating the
// zero value on either side as unbounded.
func (tf TimeFilter) Contains(d Date) bool {
	if !tf.From.IsZero() && d.Before(tf.From) {
		return false
	}
	if !tf.To.IsZero() && d.After(tf.To) {
		return false
	}
	return true
}

// ClampTo returns a copy of the filter whose To never exceeds limit.
func (tf TimeFilter) ClampTo(limit Date) TimeFilter {
	if tf.To.IsZero() || tf.To.After(limit) {
		tf.To = limit
	}
	return tf
}

func (tf TimeFilter) String() string {
	from, to := "..", ".."
	if !tf.From.IsZero() {
		from = tf.From.String()
	}
	if !tf.To.IsZero() {
		to = tf.To.String()
	}
	return "[" + from + ", " + to + "]"
}
