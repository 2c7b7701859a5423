package qr

import "testing"

func TestExtractID(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"full url", "https://x/IdQr/FIJ001", "FIJ001"},
		{"no marker", "QR_NO_MARKER", "QR_NO_MARKER"},
		{"bare marker path", "IdQr/P1171", "P1171"},
		{"marker repeated", "https://x/IdQr/nested/IdQr/LAST", "LAST"},
		{"empty", "", ""},
		{"trailing marker", "https://x/IdQr/", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractID(tc.payload); got != tc.want {
				t.Fatalf("ExtractID(%q) = %q, want %q", tc.payload, got, tc.want)
			}
		})
	}
}

func TestExtractIDIdempotent(t *testing.T) {
	payloads := []string{"https://x/IdQr/FIJ001", "QR_NO_MARKER", "P1171"}
	for _, p := range payloads {
		once := ExtractID(p)
		if twice := ExtractID(once); twice != once {
			t.Fatalf("ExtractID not idempotent for %q: %q -> %q", p, once, twice)
		}
	}
}
