// Package preflight provides readiness checks for the filesystem paths and
// external services rmcloud depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check as a
//     warning; only fatal conditions (unwritable cache dir) stop startup, and
//     those are caught earlier by config.EnsureDirectories.
//   - The CLI "rmcloud doctor" command renders the same results as a table.
//
// Each check is gated by its config toggle: disabled features are skipped.
package preflight
