package app

import (
	"math"
	"time"

	"signal-scout/database"
)

// Freshness maps a brief's age to its decayed score and lifecycle
// status. The score fades linearly inside each band: 1.00 → 0.75 over
// the first 12 hours, 0.75 → 0.40 up to 48 hours, then 0.40 down to a
// 0.10 floor approaching the 7-day mark, after which the brief is
// archived at 0.
func Freshness(age time.Duration) (float64, string) {
	hours := age.Hours()
	switch {
	case hours < 0:
		return 1.00, database.BriefStatusFresh
	case hours < 12:
		return roundScore(1.00 - (hours/12)*0.25), database.BriefStatusFresh
	case hours < 48:
		return roundScore(0.75 - ((hours-12)/36)*0.35), database.BriefStatusWarm
	case hours < 168:
		score := 0.40 - ((hours-48)/120)*0.30
		return roundScore(math.Max(0.10, score)), database.BriefStatusCold
	default:
		return 0, database.BriefStatusArchived
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
