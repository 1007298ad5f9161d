package timeutil

import (
	"testing"
	"time"
)

func TestFormatPlaybackLabel(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{-3 * time.Second, "0:00"},
		{9 * time.Second, "0:09"},
		{65 * time.Second, "1:05"},
		{10 * time.Minute, "10:00"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatPlaybackLabel(tt.d); got != tt.want {
			t.Errorf("FormatPlaybackLabel(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestClampFraction(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := ClampFraction(tt.in); got != tt.want {
			t.Errorf("ClampFraction(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFractionOf(t *testing.T) {
	if got := FractionOf(time.Minute, 4*time.Minute); got != 0.25 {
		t.Errorf("FractionOf(1m, 4m) = %v, want 0.25", got)
	}
	if got := FractionOf(5*time.Minute, 4*time.Minute); got != 1 {
		t.Errorf("FractionOf past the end = %v, want 1", got)
	}
	if got := FractionOf(time.Minute, 0); got != 0 {
		t.Errorf("FractionOf with zero total = %v, want 0", got)
	}
}

func TestOffsetAt(t *testing.T) {
	if got := OffsetAt(0.25, 4*time.Minute); got != time.Minute {
		t.Errorf("OffsetAt(0.25, 4m) = %v, want 1m", got)
	}
	if got := OffsetAt(2.0, 4*time.Minute); got != 4*time.Minute {
		t.Errorf("OffsetAt clamped = %v, want 4m", got)
	}
	if got := OffsetAt(0.5, 0); got != 0 {
		t.Errorf("OffsetAt with zero total = %v, want 0", got)
	}
}
