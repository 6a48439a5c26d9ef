package domain

import (
	"testing"
	"time"
)

func TestExpiryArithmetic(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		left      time.Duration
		days      int
		threshold int
		within    bool
	}{
		{20 * time.Hour, 1, 1, true},
		{24 * time.Hour, 1, 1, true},
		{47 * time.Hour, 2, 1, false},
		{7 * 24 * time.Hour, 7, 7, true},
		{7*24*time.Hour + 23*time.Hour, 8, 7, false},
		{-2 * time.Hour, 0, 0, true},
	}
	for _, tc := range cases {
		d := Delegation{EndDate: now.Add(tc.left)}
		if got := d.DaysUntilEnd(now); got != tc.days {
			t.Fatalf("%v left: DaysUntilEnd = %d, want %d", tc.left, got, tc.days)
		}
		if got := d.ExpiresWithin(now, tc.threshold); got != tc.within {
			t.Fatalf("%v left: ExpiresWithin(%d) = %v, want %v", tc.left, tc.threshold, got, tc.within)
		}
	}
}
