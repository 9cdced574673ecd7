// Package cloud talks to the upstream document cloud.
//
// Client is the narrow surface the rest of rmcloud depends on: register a
// device, list the file tree, and download a document archive. Remarkable
// implements it against the legacy document-storage HTTP API; Demo serves an
// embedded sample tree for offline demonstrations. Index turns a listing into
// an id lookup table that is rebuilt once per refresh.
package cloud
