package id

import "testing"

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		cur := g.Next()
		if cur.Compare(prev) <= 0 {
			t.Fatalf("id not increasing: %s <= %s", cur, prev)
		}
		prev = cur
	}
}

func TestClockBackwards(t *testing.T) {
	g := NewGenerator()
	orig := NowMs
	defer func() { NowMs = orig }()

	now := int64(1_000_000)
	NowMs = func() int64 { return now }
	a := g.Next()
	now = 999_000 // clock regression
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a despite clock regression: %s vs %s", b, a)
	}
	if b.TimeMs() != 1_000_000 {
		t.Fatalf("expected lastMs reuse, got %d", b.TimeMs())
	}
}

func TestStringHex(t *testing.T) {
	var i ID
	i[15] = 0xab
	s := i.String()
	if len(s) != 32 || s[30:] != "ab" {
		t.Fatalf("bad hex: %q", s)
	}
}
