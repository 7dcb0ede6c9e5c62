package event

import (
	"testing"

	"pgregory.net/rapid"
)

func TestNewAssignsIdentity(t *testing.T) {
	a := New(TypeCustom, "checkout")
	b := New(TypeCustom, "checkout")

	if a.EventID == "" || b.EventID == "" {
		t.Fatal("correlation id not assigned")
	}
	if a.EventID == b.EventID {
		t.Error("correlation ids collide")
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
	if a.Type != TypeCustom || a.Name != "checkout" {
		t.Errorf("event = %+v", a)
	}
}

func TestUrgentTypes(t *testing.T) {
	urgent := map[Type]bool{
		TypeError:       true,
		TypeAction:      true,
		TypeNetwork:     false,
		TypePerformance: false,
		TypeCustom:      false,
	}
	for typ, want := range urgent {
		if typ.Urgent() != want {
			t.Errorf("%s.Urgent() = %v, want %v", typ, typ.Urgent(), want)
		}
	}
}

func TestSetMetaAllocates(t *testing.T) {
	var e Event
	e.SetMeta("plan", "pro")
	e.SetMeta("retries", 3)
	if e.CustomMetadata["plan"] != "pro" || e.CustomMetadata["retries"] != 3 {
		t.Errorf("metadata = %v", e.CustomMetadata)
	}
}

// The same failure site groups together even when message tails differ.
func TestFingerprintIgnoresMessageTail(t *testing.T) {
	stack := "main.process\n\t/app/worker.go:42\nmain.run\n\t/app/main.go:17"

	a := Fingerprint("TimeoutError", "request timed out\nafter 3.21s", stack)
	b := Fingerprint("TimeoutError", "request timed out\nafter 9.87s", stack)
	if a != b {
		t.Error("varying message tail changed the fingerprint")
	}

	c := Fingerprint("TimeoutError", "connection refused", stack)
	if a == c {
		t.Error("different first lines share a fingerprint")
	}

	d := Fingerprint("TimeoutError", "request timed out\nafter 3.21s",
		"main.other\n\t/app/other.go:9")
	if a == d {
		t.Error("different call sites share a fingerprint")
	}
}

func TestFingerprintStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.String().Draw(t, "name")
		message := rapid.String().Draw(t, "message")
		stack := rapid.String().Draw(t, "stack")

		a := Fingerprint(name, message, stack)
		b := Fingerprint(name, message, stack)
		if a != b {
			t.Fatalf("fingerprint not deterministic: %q vs %q", a, b)
		}
		if a == "" {
			t.Fatal("empty fingerprint")
		}
	})
}
