package checkpoint

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoad_MissingReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir())

	cp, err := store.Load("absent")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint, got %+v", cp)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	want := &Checkpoint{
		RunID:              "run_123",
		LastProcessedIndex: 7,
		CompletedOps:       []string{"op_a", "op_b"},
	}

	if err := store.Save("swedish", want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Load("swedish")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestSave_FileFormat(t *testing.T) {
	store := NewStore(t.TempDir())

	cp := &Checkpoint{RunID: "run_1", LastProcessedIndex: 2, CompletedOps: []string{"a"}}
	if err := store.Save("p", cp); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(store.Path("p"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)

	// Two-space indentation, sorted keys, trailing newline.
	if !strings.Contains(text, "  \"completed_ops\"") {
		t.Errorf("expected 2-space indent, got:\n%s", text)
	}
	order := []string{"completed_ops", "last_processed_index", "run_id"}
	last := -1
	for _, key := range order {
		idx := strings.Index(text, key)
		if idx < 0 || idx < last {
			t.Errorf("keys not in sorted order:\n%s", text)
			break
		}
		last = idx
	}
	if !strings.HasSuffix(text, "\n") {
		t.Error("expected trailing newline")
	}

	if strings.Contains(filepath.Base(store.Path("p")), "/") {
		t.Error("path should be a file name")
	}
}

func TestSave_EmptyCompletedOpsSerializesAsArray(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Save("p", &Checkpoint{RunID: "r"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, _ := os.ReadFile(store.Path("p"))
	if !strings.Contains(string(data), "\"completed_ops\": []") {
		t.Errorf("nil slice should serialize as [], got:\n%s", data)
	}
}

func TestLoad_MalformedReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := os.WriteFile(store.Path("p"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := store.Load("p")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp != nil {
		t.Errorf("malformed checkpoint should be discarded, got %+v", cp)
	}
}

func TestLoad_MissingRunIDDiscarded(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := os.WriteFile(store.Path("p"), []byte(`{"last_processed_index": 3}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := store.Load("p")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp != nil {
		t.Errorf("checkpoint without run_id should be discarded, got %+v", cp)
	}
}

func TestLoad_NegativeIndexClamped(t *testing.T) {
	store := NewStore(t.TempDir())

	raw := `{"run_id": "r", "last_processed_index": -4, "completed_ops": null}`
	if err := os.WriteFile(store.Path("p"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := store.Load("p")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp == nil {
		t.Fatal("expected a checkpoint")
	}
	if cp.LastProcessedIndex != 0 {
		t.Errorf("index should clamp to 0, got %d", cp.LastProcessedIndex)
	}
	if cp.CompletedOps == nil {
		t.Error("completed ops should never be nil after load")
	}
}

func TestClear(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Save("p", &Checkpoint{RunID: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear("p"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, err := os.Stat(store.Path("p")); !os.IsNotExist(err) {
		t.Error("checkpoint file should be removed")
	}

	// Clearing again is fine.
	if err := store.Clear("p"); err != nil {
		t.Errorf("Clear() on missing file should not error: %v", err)
	}

	cp, err := store.Load("p")
	if err != nil || cp != nil {
		t.Errorf("Load() after Clear() = (%+v, %v), want (nil, nil)", cp, err)
	}
}
