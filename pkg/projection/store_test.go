package projection

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	in := &Projection{
		StationID:      "hutton",
		LastTrackTitle: "Song X",
		Volume:         70,
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("Load returned nil for existing file")
	}
	if *out != *in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "never-written.json"))
	if err != nil {
		t.Fatal(err)
	}

	p, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p != nil {
		t.Errorf("got %+v, want nil for missing file", p)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save(&Projection{StationID: "galnet", Volume: 50}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file not created: %v", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save(&Projection{StationID: "a", Volume: 10}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&Projection{StationID: "b", LastTrackTitle: "Two", Volume: 90}); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.StationID != "b" || out.Volume != 90 || out.LastTrackTitle != "Two" {
		t.Errorf("got %+v", out)
	}

	// The temp files used for atomic commits must not accumulate.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want 1", len(entries))
	}
}
