package story

import "testing"

func TestParseKeyRoot(t *testing.T) {
	chapter, scene, err := ParseKey(RootKey)
	if err != nil {
		t.Fatalf("ParseKey(root): %v", err)
	}
	if chapter != 0 || scene != 1 {
		t.Fatalf("ParseKey(root) = (%d,%d), want (0,1)", chapter, scene)
	}
}

func TestNextKeyFromRoot(t *testing.T) {
	if got := NextKey(RootKey, 1, "A"); got != "S1:A" {
		t.Fatalf("NextKey(root,1,A) = %q, want S1:A", got)
	}
	if got := NextKey("S1:A", 2, "B"); got != "S1:A|S2:B" {
		t.Fatalf("NextKey(S1:A,2,B) = %q, want S1:A|S2:B", got)
	}
}

func TestParseAfterNextRoundTrips(t *testing.T) {
	keys := []string{RootKey, "S1:A", "S1:A|S2:B", "S1:B|S2:A|S3:C"}
	for _, k := range keys {
		for n := 1; n <= 5; n++ {
			for _, opt := range []string{"A", "B", "C"} {
				next := NextKey(k, n, opt)
				chapter, scene, err := ParseKey(next)
				if err != nil {
					t.Fatalf("ParseKey(%q): %v", next, err)
				}
				if chapter != n {
					t.Fatalf("ParseKey(NextKey(%q,%d,%s)).chapter = %d, want %d", k, n, opt, chapter, n)
				}
				if scene != 1 {
					t.Fatalf("ParseKey(%q).scene = %d, want 1", next, scene)
				}
			}
		}
	}
}

func TestParseKeyMalformed(t *testing.T) {
	for _, k := range []string{"", "S:A", "Sx:A", "S1", "S1:A|garbage", "s1:a"} {
		if _, _, err := ParseKey(k); err == nil {
			t.Fatalf("ParseKey(%q) expected error", k)
		}
	}
}

func TestParseKeyUsesLastSegment(t *testing.T) {
	chapter, _, err := ParseKey("S1:A|S7:B")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if chapter != 7 {
		t.Fatalf("chapter = %d, want 7", chapter)
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	a := BuildPrompt("S1:A", 1, "")
	b := BuildPrompt("S1:A", 1, "")
	if a != b {
		t.Fatal("BuildPrompt is not deterministic for the same key")
	}
	if a == BuildPrompt("S1:B", 1, "") {
		t.Fatal("different branch keys should produce different prompts")
	}
}

func TestThemeRotation(t *testing.T) {
	if ThemeFor(0) != ThemeFor(len(themes)) {
		t.Fatal("theme rotation should wrap around")
	}
	if ThemeFor(-1) != ThemeFor(0) {
		t.Fatal("negative chapter index should clamp to 0")
	}
}
