package app

import (
	"math"
	"testing"
	"time"

	"signal-scout/database"
)

func TestFreshnessBuckets(t *testing.T) {
	tests := []struct {
		name       string
		age        time.Duration
		wantScore  float64
		wantStatus string
	}{
		{"brand new", 0, 1.00, database.BriefStatusFresh},
		{"six hours", 6 * time.Hour, 0.88, database.BriefStatusFresh},
		{"twelve hours exactly", 12 * time.Hour, 0.75, database.BriefStatusWarm},
		{"twenty-four hours", 24 * time.Hour, 0.63, database.BriefStatusWarm},
		{"forty-eight hours exactly", 48 * time.Hour, 0.40, database.BriefStatusCold},
		{"five days", 120 * time.Hour, 0.22, database.BriefStatusCold},
		{"one hour short of a week", 167 * time.Hour, 0.10, database.BriefStatusCold},
		{"one week exactly", 168 * time.Hour, 0.00, database.BriefStatusArchived},
		{"two weeks", 336 * time.Hour, 0.00, database.BriefStatusArchived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, status := Freshness(tt.age)
			if math.Abs(score-tt.wantScore) > 0.005 {
				t.Errorf("score = %.4f, want %.2f", score, tt.wantScore)
			}
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
		})
	}
}

func TestFreshnessMonotonicDecay(t *testing.T) {
	prev := 1.01
	for h := 0; h <= 200; h++ {
		score, _ := Freshness(time.Duration(h) * time.Hour)
		if score > prev {
			t.Fatalf("score increased at %dh: %.4f > %.4f", h, score, prev)
		}
		prev = score
	}
}
