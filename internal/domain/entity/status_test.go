package entity

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusPending, StatusTriggered, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusSubmitted, false},
		{StatusPending, StatusFilled, false},
		{StatusTriggered, StatusSubmitted, true},
		{StatusTriggered, StatusCancelled, true},
		{StatusTriggered, StatusFailed, true},
		{StatusTriggered, StatusConfirmed, false},
		{StatusTriggered, StatusPending, false},
		{StatusSubmitted, StatusConfirmed, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusCancelled, false},
		{StatusSubmitted, StatusFilled, false},
		{StatusConfirmed, StatusFilled, true},
		{StatusConfirmed, StatusFailed, true},
		{StatusFilled, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
		{"bogus", StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			err := ValidateTransition(tt.from, tt.to)
			if tt.want && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

// Every path to filled passes through submitted, and every path to submitted
// passes through triggered.
func TestTransitions_NoShortcuts(t *testing.T) {
	predecessors := make(map[OrderStatus][]OrderStatus)
	for from, tos := range allowedTransitions {
		for _, to := range tos {
			predecessors[to] = append(predecessors[to], from)
		}
	}

	if got := predecessors[StatusFilled]; len(got) != 1 || got[0] != StatusConfirmed {
		t.Errorf("filled reachable from %v, want only confirmed", got)
	}
	if got := predecessors[StatusConfirmed]; len(got) != 1 || got[0] != StatusSubmitted {
		t.Errorf("confirmed reachable from %v, want only submitted", got)
	}
	if got := predecessors[StatusSubmitted]; len(got) != 1 || got[0] != StatusTriggered {
		t.Errorf("submitted reachable from %v, want only triggered", got)
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		StatusPending: false, StatusTriggered: false, StatusSubmitted: false, StatusConfirmed: false,
		StatusFilled: true, StatusFailed: true, StatusCancelled: true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
	for _, s := range ActiveStatuses {
		if s.IsTerminal() {
			t.Errorf("active status %s is terminal", s)
		}
	}
}

func TestParseOrderSide(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderSide
		wantErr bool
	}{
		{"buy", SideBuy, false},
		{"SELL", SideSell, false},
		{" Buy ", SideBuy, false},
		{"short", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOrderSide(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidOrderParameters) {
				t.Errorf("ParseOrderSide(%q): expected ErrInvalidOrderParameters, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseOrderSide(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	if s, err := ParseOrderStatus("submitted"); err != nil || s != StatusSubmitted {
		t.Errorf("unexpected result %q, %v", s, err)
	}
	if _, err := ParseOrderStatus("done"); err == nil {
		t.Error("expected error for unknown status")
	}
}
