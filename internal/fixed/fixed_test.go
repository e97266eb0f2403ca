package fixed

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string // smallest-unit decimal representation
		ok   bool
	}{
		{"", "0", true},
		{"0", "0", true},
		{"1", "1000000000000000000", true},
		{"1.5", "1500000000000000000", true},
		{"0.000001", "1000000000000", true},
		{"0.000000000000000001", "1", true},
		// More than 18 fractional digits truncate
		{"0.0000000000000000019", "1", true},
		{"1000000", "1000000000000000000000000", true},
		{"-1", "", false},
		{"1.2.3", "", false},
		{"abc", "", false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
		{"1000000000000", "0.000001"},
		{"-1500000000000000000", "-1.5"},
	}

	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.in, 10)
		if got := Format(v); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := Format(nil); got != "0" {
		t.Errorf("Format(nil) = %q, want \"0\"", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "1.5", "0.000001", "123456.789", "0.000000000000000001"} {
		v, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		got := Format(v)
		want := s
		if s == "0" {
			want = "0"
		}
		if got != want {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestMul(t *testing.T) {
	tests := []struct {
		a, b string
		want string
		ok   bool
	}{
		{"1", "1", "1", true},
		{"1.5", "2", "3", true},
		{"0.5", "88.50", "44.25", true},
		// totalFiat for a typical deal: 0.25 ETH at 2,40,000 INR
		{"0.25", "240000", "60000", true},
		{"0", "100", "0", true},
		{"abc", "1", "", false},
		{"1", "-2", "", false},
	}

	for _, tt := range tests {
		got, ok := Mul(tt.a, tt.b)
		if ok != tt.ok {
			t.Errorf("Mul(%q, %q) ok = %v, want %v", tt.a, tt.b, ok, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("Mul(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		v, min, max string
		want        bool
	}{
		{"0.5", "0.1", "1", true},
		{"0.1", "0.1", "1", true},
		{"1", "0.1", "1", true},
		{"0.05", "0.1", "1", false},
		{"1.01", "0.1", "1", false},
		{"bad", "0.1", "1", false},
	}

	for _, tt := range tests {
		if got := InRange(tt.v, tt.min, tt.max); got != tt.want {
			t.Errorf("InRange(%q, %q, %q) = %v, want %v", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}
