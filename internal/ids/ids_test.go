package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewJobIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewJob()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestPhotoFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	name := PhotoFilename(now)
	if !strings.HasPrefix(name, "photo_20260314_092653_") {
		t.Fatalf("unexpected prefix: %s", name)
	}
	if !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("expected .jpg suffix: %s", name)
	}
	if name == PhotoFilename(now) {
		t.Fatal("expected unique suffixes for identical timestamps")
	}
}
