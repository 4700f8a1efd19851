// Package health reports the health of the broker's dependencies.
//
// A Status is healthy, degraded or unhealthy. Statuses of dependencies are
// aggregated into one broker status: any unhealthy dependency makes the
// aggregate unhealthy, otherwise any degraded one makes it degraded.
//
//	statuses := []health.Status{
//		health.FromCheck("endpoint", endpointErr),
//		health.FromCheck("nats", natsErr),
//	}
//	overall := health.Aggregate("semsub", statuses)
//
// Error messages are sanitized before they are reported so URLs, paths,
// addresses and credentials never reach a health response.
package health
