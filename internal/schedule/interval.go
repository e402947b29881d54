package schedule

import "fmt"

// Interval is a half-open [Start, End) range expressed in minutes of day.
type Interval struct {
	Start int
	End   int
}

// NewInterval builds an interval from a start minute and a duration.
func NewInterval(startMinute, durationMin int) Interval {
	return Interval{Start: startMinute, End: startMinute + durationMin}
}

// Valid reports whether the interval has positive length and stays within a day.
func (iv Interval) Valid() bool {
	return iv.Start >= 0 && iv.End > iv.Start && iv.End <= minutesPerDay
}

// Overlaps reports whether two half-open intervals share any minute.
// Back-to-back intervals (a.End == b.Start) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Duration returns the interval length in minutes.
func (iv Interval) Duration() int {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s-%s", formatMinute(iv.Start), formatMinute(iv.End))
}

const minutesPerDay = 24 * 60

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
