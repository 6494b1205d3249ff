package charset

import "testing"

func TestLegacyEscapeRoundTrip(t *testing.T) {
	in := "a$b|c"
	esc := EscapeLegacy(in)
	if esc != "a&#36;b&#124;c" {
		t.Fatalf("EscapeLegacy = %q", esc)
	}
	if got := UnescapeLegacy(esc); got != in {
		t.Fatalf("UnescapeLegacy = %q, want %q", got, in)
	}
}

func TestModernEscapeRoundTrip(t *testing.T) {
	in := "hello world\\path\nline"
	esc := EscapeModern(in)
	got, err := UnescapeModern(esc)
	if err != nil {
		t.Fatalf("UnescapeModern: %v", err)
	}
	if got != in {
		t.Fatalf("round trip mismatch: got %q want %q", got, in)
	}
}

func TestUnescapeModernRejectsBadSequence(t *testing.T) {
	if _, err := UnescapeModern(`bad\x`); err != ErrEscape {
		t.Fatalf("got %v, want ErrEscape", err)
	}
	if _, err := UnescapeModern(`trailing\`); err != ErrEscape {
		t.Fatalf("got %v, want ErrEscape", err)
	}
}

func TestSplitModernFields(t *testing.T) {
	fields := SplitModernFields(`NIalice DEtest\sdesc SS1234`)
	want := []string{"NIalice", `DEtest\sdesc`, "SS1234"}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d: %v", len(fields), len(want), fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestNewUnknownFallsBackToUTF8(t *testing.T) {
	b := New("not-a-real-encoding")
	if b.Label() != "utf-8" {
		t.Fatalf("Label() = %q, want utf-8", b.Label())
	}
	out, err := b.Encode("hello")
	if err != nil || string(out) != "hello" {
		t.Fatalf("Encode passthrough failed: %q, %v", out, err)
	}
}
