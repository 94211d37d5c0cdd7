package gate

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		cacheHit bool
		quotaOK  bool
		urgent   bool
		want     Route
	}{
		{"cache hit wins", true, true, true, RouteCached},
		{"cache hit even without quota", true, false, false, RouteCached},
		{"quota denial", false, false, true, RouteDenied},
		{"urgent miss computes", false, true, true, RouteComputed},
		{"non-urgent miss goes async", false, true, false, RouteAsync},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.cacheHit, tc.quotaOK, tc.urgent); got != tc.want {
				t.Errorf("Decide(%v, %v, %v) = %s, want %s",
					tc.cacheHit, tc.quotaOK, tc.urgent, got, tc.want)
			}
		})
	}
}

func TestRouteStrings(t *testing.T) {
	if RouteCached.String() != "cached" || RouteAsync.String() != "accepted_async" {
		t.Error("route names drifted")
	}
}
