package sha256

import "testing"

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
	again, _ := h.Hash([]byte("hello world"))
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestHasherTruncated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want string
	}{
		{n: 16, want: helloDigest[:16]},
		{n: 0, want: helloDigest},
		{n: 100, want: helloDigest},
	}
	for _, tc := range tests {
		got, err := Truncated(tc.n).Hash([]byte("hello world"))
		if err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		if got != tc.want {
			t.Fatalf("Truncated(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}
