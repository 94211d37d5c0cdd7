package gate

// Route is the request-scoped serving decision. It is a pure function of
// the cache and quota results plus the caller's urgency flag - no workflow
// state is kept between requests.
type Route int

const (
	// RouteCached - serve the stored result immediately
	RouteCached Route = iota

	// RouteComputed - compute synchronously and return the result
	RouteComputed

	// RouteAsync - accept the work and return a job token
	RouteAsync

	// RouteDenied - quota refused the request
	RouteDenied
)

func (r Route) String() string {
	switch r {
	case RouteCached:
		return "cached"
	case RouteComputed:
		return "computed"
	case RouteAsync:
		return "accepted_async"
	case RouteDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Decide picks the serving route for one request
func Decide(cacheHit, quotaOK, urgent bool) Route {
	if cacheHit {
		return RouteCached
	}
	if !quotaOK {
		return RouteDenied
	}
	if urgent {
		return RouteComputed
	}
	return RouteAsync
}
