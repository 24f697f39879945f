package password

import "testing"

func TestLooksVeryWeak(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                        true,
		"   ":                     true,
		"Password123":             true,
		"ChirpChirp":              true,
		"12345":                   true,
		"abcdefghijklm":           true,
		"zyxwvutsrqpo":            true,
		"aaaaaaaaaaaa":            true,
		"abababababab":            true,
		"xyzxyzxyzxyz":            true,
		"123456789012345":         false,
		"correct-horse-battery-9": false,
		"a-very-ok-pass":          false,
		"ÄÖÜäöüß-lang-genug":      false,
	}
	for pw, want := range cases {
		if got := looksVeryWeak(pw); got != want {
			t.Fatalf("looksVeryWeak(%q)=%v want=%v", pw, got, want)
		}
	}
}
