package storage

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Set then Get returns the value for any key and payload.
func TestSetGetRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-zA-Z0-9_.-]{1,32}`).Draw(rt, "key")
		want := payload{
			Name:  rapid.String().Draw(rt, "name"),
			Count: rapid.Int().Draw(rt, "count"),
		}

		store := Open(t.TempDir(), zap.NewNop())
		store.Set(key, want)

		var got payload
		if !store.Get(key, &got) {
			rt.Fatalf("Get(%q) reported absent after Set", key)
		}
		if got != want {
			rt.Fatalf("round trip: want %+v, got %+v", want, got)
		}
	})
}

func TestGetMissingKey(t *testing.T) {
	store := Open(t.TempDir(), zap.NewNop())
	var out payload
	if store.Get("nothing", &out) {
		t.Error("expected absent for missing key")
	}
}

// A corrupted file reads as absent and is removed, so the next Set starts
// clean.
func TestCorruptedValueReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := Open(dir, zap.NewNop())
	store.Set("k", payload{Name: "x"})

	path := filepath.Join(dir, store.FileName("k"))
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out payload
	if store.Get("k", &out) {
		t.Error("expected corrupted value to read as absent")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected corrupted file to be removed")
	}
}

func TestRemove(t *testing.T) {
	store := Open(t.TempDir(), zap.NewNop())
	store.Set("k", payload{Name: "x"})
	store.Remove("k")

	var out payload
	if store.Get("k", &out) {
		t.Error("expected absent after Remove")
	}
}

// Clear purges only files owned by the storage prefix; foreign files in the
// same directory survive.
func TestClearPurgesOnlyOwnedFiles(t *testing.T) {
	dir := t.TempDir()
	store := Open(dir, zap.NewNop())
	store.Set("a", payload{})
	store.Set("b", payload{})

	foreign := filepath.Join(dir, "unrelated.json")
	if err := os.WriteFile(foreign, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	store.Clear()

	var out payload
	if store.Get("a", &out) || store.Get("b", &out) {
		t.Error("expected owned keys gone after Clear")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("expected foreign file untouched, got %v", err)
	}
}

// An unwritable location degrades to in-memory-less operation instead of
// failing: Set and Get become no-ops.
func TestUnavailableStoreFailsSoft(t *testing.T) {
	store := Open("/proc/definitely/not/writable", zap.NewNop())
	if store.Available() {
		t.Fatal("expected store to be unavailable")
	}
	store.Set("k", payload{Name: "x"})
	var out payload
	if store.Get("k", &out) {
		t.Error("expected Get to report absent on unavailable store")
	}
}

func TestDefaultDirHonorsXDGStateHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_STATE_HOME", tmp)
	if got := DefaultDir(); got != filepath.Join(tmp, "bugrelay") {
		t.Errorf("DefaultDir: got %q", got)
	}
}

// Without a home directory the default still resolves somewhere usable.
func TestDefaultDirFallsBackWithoutHome(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "")
	if got := DefaultDir(); got == "" {
		t.Error("expected a usable fallback directory")
	}
}
