package tensor

import "testing"

func TestParseDType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want DType
		ok   bool
	}{
		{"", F32, true},
		{"f32", F32, true},
		{"fp16", F16, true},
		{"half", F16, true},
		{"bf16", F32, false},
	}
	for _, tc := range cases {
		got, ok := ParseDType(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseDType(%q): got (%v, %v) want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestF16ExactValues(t *testing.T) {
	t.Parallel()

	// Powers of two and small integers are exact in half precision.
	for _, v := range []float32{0, 1, -2, 0.5, 1024} {
		if got := F16Decode(F16Encode(v)); got != v {
			t.Fatalf("f16 round trip of %v: got %v", v, got)
		}
	}
}
