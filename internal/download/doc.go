// Package download resolves document requests into bytes.
//
// The Orchestrator validates the session, consults the artifact cache, fetches
// the archive from the cloud on a miss, optionally runs the converter, and
// writes the result back to the cache. Concurrent requests for the same cache
// key share a single pipeline run and observe the same outcome.
//
// The cache is advisory: lookup and store faults are logged and degrade to a
// miss. Errors returned by Resolve are always *api.Error so the route layer
// can render them without inspecting messages.
package download
