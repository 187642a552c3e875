package kinematics

import (
	"errors"
	"math"
	"testing"
)

func closedForm(a, c, b float64) float64 {
	return math.Pi - math.Acos((math.Pow(a, 2)+math.Pow(c, 2)-math.Pow(b, 2))/(2*a*c))
}

func TestTriangle_Angle(t *testing.T) {
	tri := PitchMechanism()

	tests := []struct {
		name   string
		length float64
	}{
		{"retracted", 0.46},
		{"half", 0.51},
		{"full", 0.675},
		{"short", 0.35},
		{"long", 1.05},
	}

	for _, tt := range tests {
		got, err := tri.Angle(tt.length)
		if err != nil {
			t.Fatalf("%s: Angle(%v) error: %v", tt.name, tt.length, err)
		}
		want := closedForm(tri.A, tri.C, tt.length)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s: Angle(%v) = %v, want %v", tt.name, tt.length, got, want)
		}
	}
}

func TestTriangle_AngleFullExtension(t *testing.T) {
	got, err := PitchMechanism().Angle(0.675)
	if err != nil {
		t.Fatalf("Angle(0.675) error: %v", err)
	}
	if math.Abs(got-1.9414013947966295) > 1e-12 {
		t.Errorf("Angle(0.675) = %v, want 1.9414013947966295", got)
	}
}

func TestTriangle_AngleBounds(t *testing.T) {
	tri := PitchMechanism()

	folded, err := tri.Angle(math.Abs(tri.A - tri.C))
	if err != nil {
		t.Fatalf("Angle at lower bound error: %v", err)
	}
	if math.Abs(folded-math.Pi) > 1e-6 {
		t.Errorf("Angle at lower bound = %v, want π", folded)
	}

	straight, err := tri.Angle(tri.A + tri.C)
	if err != nil {
		t.Fatalf("Angle at upper bound error: %v", err)
	}
	if math.Abs(straight) > 1e-6 {
		t.Errorf("Angle at upper bound = %v, want 0", straight)
	}
}

func TestTriangle_AngleSweepIsFinite(t *testing.T) {
	tri := PitchMechanism()
	lo, hi := math.Abs(tri.A-tri.C), tri.A+tri.C
	for b := lo; b <= hi; b += 0.005 {
		got, err := tri.Angle(b)
		if err != nil {
			t.Fatalf("Angle(%v) error: %v", b, err)
		}
		if math.IsNaN(got) || got < 0 || got > math.Pi {
			t.Errorf("Angle(%v) = %v, want value in [0, π]", b, got)
		}
	}
}

func TestTriangle_AngleDegenerate(t *testing.T) {
	tri := PitchMechanism()

	for _, b := range []float64{0, 0.1, 0.3199, 1.1001, 2, -0.5, math.NaN()} {
		_, err := tri.Angle(b)
		if !errors.Is(err, ErrDegenerateTriangle) {
			t.Errorf("Angle(%v) error = %v, want ErrDegenerateTriangle", b, err)
		}
	}

	var gerr *GeometryError
	_, err := tri.Angle(2)
	if !errors.As(err, &gerr) {
		t.Fatalf("Angle(2) error = %T, want *GeometryError", err)
	}
	if gerr.Length != 2 {
		t.Errorf("GeometryError.Length = %v, want 2", gerr.Length)
	}
}

func TestTriangle_Validate(t *testing.T) {
	tests := []struct {
		tri Triangle
		ok  bool
	}{
		{Triangle{A: 0.39, C: 0.71}, true},
		{Triangle{A: 0, C: 0.71}, false},
		{Triangle{A: 0.39, C: -1}, false},
		{Triangle{A: math.NaN(), C: 1}, false},
	}

	for _, tt := range tests {
		err := tt.tri.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.tri, err, tt.ok)
		}
		if _, err := tt.tri.Angle(0.5); !tt.ok && !errors.Is(err, ErrDegenerateTriangle) {
			t.Errorf("Angle on invalid %+v error = %v, want ErrDegenerateTriangle", tt.tri, err)
		}
	}
}
