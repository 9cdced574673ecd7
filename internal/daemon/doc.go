// Package daemon coordinates the long-running rmcloud server process.
//
// It wires the session store, cloud client, download orchestrator and cache
// reconciler behind an HTTP API, and owns their lifecycle with flock-based
// locking to prevent two servers sharing one data directory. Background work
// (the session janitor and the optional periodic refresher) runs on the
// daemon context and stops with it.
//
// Keep request semantics in their own packages: handlers here only parse
// parameters, resolve the session, call the component and render the
// response envelope.
package daemon
