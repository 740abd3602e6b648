package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Position
		want    float64
		epsilon float64
	}{
		{name: "same point", a: Position{}, b: Position{}, want: 0, epsilon: 1e-9},
		{name: "33m east at equator", a: Position{0, 0}, b: Position{0, 0.0003}, want: 33.36, epsilon: 0.1},
		{name: "5.5m east at equator", a: Position{0, 0}, b: Position{0, 0.00005}, want: 5.56, epsilon: 0.05},
		{name: "one degree north", a: Position{0, 0}, b: Position{1, 0}, want: 111195, epsilon: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Fatalf("Distance(%s, %s) = %.3f, want %.3f±%.3f", tt.a, tt.b, got, tt.want, tt.epsilon)
			}
			if back := Distance(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Fatalf("distance not symmetric: %f vs %f", got, back)
			}
		})
	}
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition(" 52.52, 13.405 ")
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if p.Latitude != 52.52 || p.Longitude != 13.405 {
		t.Fatalf("unexpected position %+v", p)
	}

	for _, bad := range []string{"", "1", "a,b", "91,0", "0,181"} {
		if _, err := ParsePosition(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
