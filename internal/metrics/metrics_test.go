package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"bare site", "Parahumans.wordpress.com", "parahumans.wordpress.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerFetchesTotal == nil || crawlerChaptersTotal == nil ||
		httpRequestsTotal == nil || jobsTotal == nil || jobsActive == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("a.wordpress.com", "ok"))
	ObserveFetch("A.wordpress.com", "ok")
	if got := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("a.wordpress.com", "ok")); got != before+1 {
		t.Errorf("expected fetch counter to grow by 1, got %f -> %f", before, got)
	}

	beforeJobs := testutil.ToFloat64(jobsTotal.WithLabelValues("ready"))
	ObserveJob("ready")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("ready")); got != beforeJobs+1 {
		t.Errorf("expected job counter to grow by 1, got %f", got)
	}

	active := testutil.ToFloat64(jobsActive)
	IncActiveJobs()
	DecActiveJobs()
	if got := testutil.ToFloat64(jobsActive); got != active {
		t.Errorf("expected active jobs gauge to return to %f, got %f", active, got)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://a.wordpress.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
