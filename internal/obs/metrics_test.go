package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/api/jobs/01J5XQ2Z":        "/api/jobs/:id",
		"/api/jobs/stream":          "/api/jobs/stream",
		"/api/incidences":           "/api/incidences",
		"/api/incidences?company=x": "/api/incidences",
		"/api/jobs/abc/extra":       "/api/jobs/abc/extra",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
