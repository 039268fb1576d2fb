package clock

import "testing"

func TestNow(t *testing.T) {
	if Now() <= 0 {
		t.Errorf("Now() = %d, want positive unix seconds", Now())
	}
}

func TestDayStart(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"exact midnight", 172800, 172800},
		{"mid-day", 172800 + 3661, 172800},
		{"end of day", 172800 + 86399, 172800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayStart(tt.in); got != tt.want {
				t.Errorf("DayStart(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
