package scheduler

import "time"

// MonthlyEntryDates returns the first date of each calendar month present
// in the series, in ascending order.
func MonthlyEntryDates(s *PriceSeries) []time.Time {
	var (
		out  []time.Time
		last time.Time
	)
	for _, d := range s.dates {
		if len(out) > 0 && d.Year() == last.Year() && d.Month() == last.Month() {
			continue
		}
		out = append(out, d)
		last = d
	}
	return out
}

// MonthTag formats d as YYYYMM.
func MonthTag(d time.Time) string {
	return d.Format("200601")
}
