// Package daemonctl inspects and stops a running rmcloud server through its
// data directory lock and pid file.
package daemonctl
