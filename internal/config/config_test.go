package config

import "testing"

// Targets include the task path, so the probe URL must swap the path out
// rather than appending the health path to it.
func TestBackendProbeURL(t *testing.T) {
	cases := []struct {
		name    string
		backend BackendConfig
		want    string
	}{
		{
			"replaces task path",
			BackendConfig{Target: "http://localhost:9001/run", HealthPath: "/health"},
			"http://localhost:9001/health",
		},
		{
			"default health path",
			BackendConfig{Target: "http://localhost:9002/export"},
			"http://localhost:9002/health",
		},
		{
			"custom path",
			BackendConfig{Target: "http://localhost:9003/notify", HealthPath: "/status/live"},
			"http://localhost:9003/status/live",
		},
		{
			"bare host",
			BackendConfig{Target: "http://localhost:9001", HealthPath: "/health"},
			"http://localhost:9001/health",
		},
	}

	for _, tc := range cases {
		if got := tc.backend.ProbeURL(); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
