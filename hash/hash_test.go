package hash

import "testing"

func TestHashCommandIsDeterministic(t *testing.T) {
	a := HashCommand("cc -c a.c -o a.o")
	b := HashCommand("cc -c a.c -o a.o")
	if a != b {
		t.Fatalf("HashCommand is not deterministic: %x != %x", a, b)
	}
}

func TestHashCommandDistinguishesCommands(t *testing.T) {
	a := HashCommand("cc -c a.c -o a.o")
	b := HashCommand("cc -c b.c -o b.o")
	if a == b {
		t.Fatalf("distinct commands hashed to the same value")
	}
}

func TestMurmurHash64AHandlesPartialTailBlock(t *testing.T) {
	// Inputs that aren't a multiple of 8 bytes exercise the tail-byte path
	// separately from the 8-byte-chunk loop.
	for _, s := range []string{"", "a", "ab", "abcdefg", "abcdefgh", "abcdefghi"} {
		h1 := MurmurHash64A([]byte(s))
		h2 := MurmurHash64A([]byte(s))
		if h1 != h2 {
			t.Fatalf("MurmurHash64A(%q) not stable across calls", s)
		}
	}
}

func TestRapidHashIsDeterministicAndSensitiveToInput(t *testing.T) {
	a := RapidHash([]byte("build/seed.txt"))
	b := RapidHash([]byte("build/seed.txt"))
	if a != b {
		t.Fatalf("RapidHash is not deterministic")
	}
	c := RapidHash([]byte("build/derived.txt"))
	if a == c {
		t.Fatalf("RapidHash collided on two distinct short inputs")
	}
}

func TestRapidHashEmptyInput(t *testing.T) {
	// Must not panic on the zero-length input.
	_ = RapidHash(nil)
	_ = RapidHash([]byte{})
}
