package checkout

import (
	"errors"
	"strings"
	"testing"
)

func TestDecrementFloor(t *testing.T) {
	cases := []struct {
		value, quantity int64
		next, taken     int64
	}{
		{5, 2, 3, 2},
		{2, 2, 0, 2},
		{1, 3, 0, 1},
		{0, 4, 0, 0},
		{-2, 1, 0, 0},
		{4, 0, 4, 0},
	}
	for _, tc := range cases {
		next, taken := decrementFloor(tc.value, tc.quantity)
		if next != tc.next || taken != tc.taken {
			t.Fatalf("decrementFloor(%d, %d) = (%d, %d), want (%d, %d)",
				tc.value, tc.quantity, next, taken, tc.next, tc.taken)
		}
	}
}

func TestProductReserve(t *testing.T) {
	p := Product{ID: "p1", Name: "Desk Lamp", Available: 3}
	if err := p.Reserve(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Available != 1 || p.Reserved != 2 {
		t.Fatalf("counters = %d/%d, want 1/2", p.Available, p.Reserved)
	}

	err := p.Reserve(2)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "Desk Lamp") {
		t.Fatalf("expected product name in %q", err.Error())
	}
	if p.Available != 1 || p.Reserved != 2 {
		t.Fatalf("failed reserve mutated counters: %d/%d", p.Available, p.Reserved)
	}
}

func TestProductReleaseClampsReserved(t *testing.T) {
	p := Product{ID: "p1", Available: 4, Reserved: 1}
	if short := p.Release(3); short != 2 {
		t.Fatalf("shortfall = %d, want 2", short)
	}
	if p.Available != 7 || p.Reserved != 0 {
		t.Fatalf("counters = %d/%d, want 7/0", p.Available, p.Reserved)
	}
}

func TestProductConsumeLeavesAvailable(t *testing.T) {
	p := Product{ID: "p1", Available: 4, Reserved: 2}
	if short := p.Consume(2); short != 0 {
		t.Fatalf("shortfall = %d, want 0", short)
	}
	if p.Available != 4 || p.Reserved != 0 {
		t.Fatalf("counters = %d/%d, want 4/0", p.Available, p.Reserved)
	}
}
