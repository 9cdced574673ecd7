// Command rmcloud runs the document cloud backend and offers maintenance
// commands for its configuration and artifact cache.
//
// The serve command starts the HTTP server in the foreground. The config,
// cache and doctor commands operate directly on the configured directories
// and do not need a running server.
package main
