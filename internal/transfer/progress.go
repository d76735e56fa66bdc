package transfer

// Observer receives transmission progress after every transferred chunk.
// total is nil when the content stream does not report a length.
type Observer func(job *Job, transferred int64, total *int64)

// Percent derives a percent-complete value, clamped to [0,100]. Returns
// (0, false) when the total length is unknown.
func Percent(transferred int64, total *int64) (float64, bool) {
	if total == nil || *total <= 0 {
		return 0, false
	}
	pct := float64(transferred) / float64(*total) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
