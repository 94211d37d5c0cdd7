package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// The probe must hit the configured health URL, not a path derived from
// the task target.
func TestCheckerProbesConfiguredURL(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewChecker(&Config{
		Backends: map[string]string{"inference": srv.URL + "/healthz"},
		Interval: time.Hour,
	})
	c.Start()
	defer c.Stop()

	if got, _ := gotPath.Load().(string); got != "/healthz" {
		t.Fatalf("probe hit %q, want /healthz", got)
	}
	if !c.IsHealthy("inference") {
		t.Fatal("backend with passing probe marked unhealthy")
	}
}

func TestCheckerMarksUnhealthyAfterMaxFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(&Config{
		Backends:    map[string]string{"export": srv.URL + "/health"},
		Interval:    time.Hour,
		MaxFailures: 2,
	})
	c.Start()
	defer c.Stop()

	// One failure from the initial sweep; still within tolerance
	if !c.IsHealthy("export") {
		t.Fatal("marked unhealthy before max failures")
	}

	c.checkAll()
	if c.IsHealthy("export") {
		t.Fatal("still healthy after max failures")
	}
}

func TestCheckerRecoversOnSuccess(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewChecker(&Config{
		Backends:    map[string]string{"notification": srv.URL + "/health"},
		Interval:    time.Hour,
		MaxFailures: 1,
	})
	c.Start()
	defer c.Stop()

	if c.IsHealthy("notification") {
		t.Fatal("failing backend still healthy")
	}

	healthy.Store(true)
	c.checkAll()
	if !c.IsHealthy("notification") {
		t.Fatal("backend did not recover after passing probe")
	}
}

func TestCheckerUnknownBackendCountsHealthy(t *testing.T) {
	c := NewChecker(&Config{Backends: map[string]string{}})
	if !c.IsHealthy("never-configured") {
		t.Fatal("unknown backend should default to healthy")
	}
}
