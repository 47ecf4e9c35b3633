package geometry

import (
	"math"
	"testing"

	"plotbot-go/pkg/errors"
)

func TestNewRatio(t *testing.T) {
	r, err := NewRatio(1155, 385, 900, 300)
	if err != nil {
		t.Fatalf("NewRatio: %v", err)
	}
	if r.X != 3 || r.Y != 3 {
		t.Errorf("ratio = %+v, want {3 3}", r)
	}
	if !r.Valid() {
		t.Error("ratio should be valid")
	}
}

func TestNewRatioRejectsZero(t *testing.T) {
	tests := [][4]float64{
		{1155, 0, 900, 300},
		{1155, 385, 900, 0},
		{0, 385, 900, 300},
		{1155, -1, 900, 300},
		{1155, math.NaN(), 900, 300},
	}
	for _, tt := range tests {
		_, err := NewRatio(tt[0], tt[1], tt[2], tt[3])
		if err == nil {
			t.Errorf("NewRatio(%v) should fail", tt)
			continue
		}
		if !errors.IsConfig(err) {
			t.Errorf("NewRatio(%v) error %v is not a config error", tt, err)
		}
	}
	if (Ratio{}).Valid() {
		t.Error("zero Ratio must not be valid")
	}
}

func TestConversionLinearAndInverse(t *testing.T) {
	r, _ := NewRatio(1155, 385, 900, 250)
	for _, px := range []float64{0, 1, 3, 100, 577.5, 1155} {
		mmX := r.PixelsToMmX(px)
		mmY := r.PixelsToMmY(px)
		if got := r.MmToPixelsX(mmX); math.Abs(got-px) > 1e-9 {
			t.Errorf("X round trip of %v = %v", px, got)
		}
		if got := r.MmToPixelsY(mmY); math.Abs(got-px) > 1e-9 {
			t.Errorf("Y round trip of %v = %v", px, got)
		}
		if got := r.PixelsToMmX(2 * px); math.Abs(got-2*mmX) > 1e-9 {
			t.Errorf("X not linear at %v: %v vs %v", px, got, 2*mmX)
		}
	}
}

func TestPositionDistance(t *testing.T) {
	if d := Pos(0, 0).Distance(Pos(3, 4)); d != 5 {
		t.Errorf("Distance = %v, want 5", d)
	}
	if p := Pos(1, 2).Add(Pos(-1, 3)); p != Pos(0, 5) {
		t.Errorf("Add = %v", p)
	}
	x, y := Ratio{X: 3, Y: 3}.ToMm(Pos(300, 150))
	if x != 100 || y != 50 {
		t.Errorf("ToMm = %v,%v", x, y)
	}
}
