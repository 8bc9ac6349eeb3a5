package radio

import "testing"

func TestNormalizeEquivalence(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"case", "Daft Punk - Around the World", "DAFT PUNK - AROUND THE WORLD"},
		{"whitespace", "  Daft   Punk\t-  Around the World ", "Daft Punk - Around the World"},
		{"em dash", "Daft Punk — Around the World", "Daft Punk - Around the World"},
		{"en dash", "Daft Punk – Around the World", "Daft Punk - Around the World"},
		{"minus sign", "Daft Punk − Around the World", "Daft Punk - Around the World"},
		{"nfc vs nfd", "Café del Mar", "Café del Mar"},
		{"sharp s folds", "Straße", "STRASSE"},
		{"non-latin case", "ЛЕНИНГРАД", "ленинград"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			na, nb := Normalize(tc.a), Normalize(tc.b)
			if na != nb {
				t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q; want equal", tc.a, na, tc.b, nb)
			}
		})
	}
}

func TestNormalizeDistinct(t *testing.T) {
	if Normalize("Song A") == Normalize("Song B") {
		t.Error("different titles must not normalize to the same value")
	}
}

func TestEvaluateAnnouncesChange(t *testing.T) {
	d := Evaluate("New Song", Normalize("Old Song"), 3, ModeActive, 2)
	if !d.Announce {
		t.Error("a different title must announce")
	}
	if d.RepeatCount != 0 {
		t.Errorf("RepeatCount = %d, want 0", d.RepeatCount)
	}
	if d.Mode != ModeLazy {
		t.Errorf("Mode = %v, want lazy after a change", d.Mode)
	}
	if d.Normalized != Normalize("New Song") {
		t.Errorf("Normalized = %q", d.Normalized)
	}
}

func TestEvaluateSuppressesDuplicates(t *testing.T) {
	// A stream of identical readings announces exactly once, however the
	// title is cased or spaced.
	readings := []string{"Song A", "SONG A", "  Song   A ", "Song A"}

	prev := ""
	repeat := 0
	mode := ModeLazy
	announces := 0
	for _, r := range readings {
		d := Evaluate(r, prev, repeat, mode, 2)
		if d.Announce {
			announces++
		}
		prev, repeat, mode = d.Normalized, d.RepeatCount, d.Mode
	}

	if announces != 1 {
		t.Errorf("announced %d times, want 1", announces)
	}
}

func TestEvaluateMissedRead(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		d := Evaluate(raw, Normalize("Song A"), 1, ModeActive, 2)
		if d.Announce {
			t.Errorf("Evaluate(%q) announced a missed read", raw)
		}
		if d.Normalized != Normalize("Song A") {
			t.Errorf("Evaluate(%q) dropped the previous title", raw)
		}
		if d.RepeatCount != 1 {
			t.Errorf("Evaluate(%q) RepeatCount = %d, want 1", raw, d.RepeatCount)
		}
		if d.Mode != ModeActive {
			t.Errorf("Evaluate(%q) Mode = %v, want active", raw, d.Mode)
		}
	}
}

func TestEvaluateModeEscalation(t *testing.T) {
	prev := ""
	repeat := 0
	mode := ModeLazy

	// First reading announces and stays lazy.
	d := Evaluate("Song A", prev, repeat, mode, 2)
	if !d.Announce || d.Mode != ModeLazy {
		t.Fatalf("first reading: %+v", d)
	}
	prev, repeat, mode = d.Normalized, d.RepeatCount, d.Mode

	// One repeat is below the threshold.
	d = Evaluate("Song A", prev, repeat, mode, 2)
	if d.Mode != ModeLazy || d.RepeatCount != 1 {
		t.Fatalf("first repeat: %+v", d)
	}
	prev, repeat, mode = d.Normalized, d.RepeatCount, d.Mode

	// The second repeat reaches the threshold and speeds polling up.
	d = Evaluate("Song A", prev, repeat, mode, 2)
	if d.Mode != ModeActive || d.RepeatCount != 2 {
		t.Fatalf("second repeat: %+v", d)
	}
	prev, repeat, mode = d.Normalized, d.RepeatCount, d.Mode

	// Further repeats stay active.
	d = Evaluate("Song A", prev, repeat, mode, 2)
	if d.Mode != ModeActive {
		t.Fatalf("third repeat: %+v", d)
	}
	prev, repeat, mode = d.Normalized, d.RepeatCount, d.Mode

	// A change announces and drops back to lazy.
	d = Evaluate("Song B", prev, repeat, mode, 2)
	if !d.Announce || d.Mode != ModeLazy || d.RepeatCount != 0 {
		t.Fatalf("change after active: %+v", d)
	}
}

func TestEvaluateZeroThresholdNeverEscalates(t *testing.T) {
	d := Evaluate("Song A", Normalize("Song A"), 10, ModeLazy, 0)
	if d.Mode != ModeLazy {
		t.Errorf("Mode = %v, want lazy with escalation disabled", d.Mode)
	}
}
