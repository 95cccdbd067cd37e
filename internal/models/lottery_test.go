package models

import "testing"

func TestPrizeState(t *testing.T) {
	tests := []struct {
		remaining int
		want      PrizeState
	}{
		{10, PrizeUntouched},
		{7, PrizePartiallyDrawn},
		{1, PrizePartiallyDrawn},
		{0, PrizeExhausted},
	}
	for _, tt := range tests {
		p := Prize{TotalCount: 10, RemainingCount: tt.remaining}
		if got := p.State(); got != tt.want {
			t.Errorf("remaining %d: expected %s, but got %s", tt.remaining, tt.want, got)
		}
		if p.Drawn() != 10-tt.remaining {
			t.Errorf("remaining %d: expected drawn %d, but got %d", tt.remaining, 10-tt.remaining, p.Drawn())
		}
	}
}
