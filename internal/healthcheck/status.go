package healthcheck

import "time"

// Status of one executor backend
type Status struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	IsHealthy    bool      `json:"is_healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	FailureCount int       `json:"failure_count"`
}
