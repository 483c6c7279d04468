// Package testutil holds helpers shared by adapter tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// secretHeaders are stripped from cassettes before they are saved.
var secretHeaders = []string{"Authorization", "X-Goog-Api-Key", "X-Api-Key"}

// NewVCRRecorder replays testdata/fixtures/<cassetteName>.yaml. Set
// VCR_MODE=record to record a fresh cassette against the real agent.
func NewVCRRecorder(t *testing.T, cassetteName string) (*recorder.Recorder, func()) {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Query strings may carry API keys, so only method and path are matched.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		if r.Method != i.Method {
			return false
		}
		recorded, err := http.NewRequest(i.Method, i.URL, nil)
		if err != nil {
			return false
		}
		return r.URL.Host == recorded.URL.Host && r.URL.Path == recorded.URL.Path
	})
	r.AddFilter(func(i *cassette.Interaction) error {
		for _, h := range secretHeaders {
			delete(i.Request.Headers, h)
		}
		return nil
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// VCRHTTPClient returns an HTTP client configured to use the VCR recorder
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}
