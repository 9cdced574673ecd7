// Package logs reads the server log file for `rmcloud logs`.
//
// Last returns the trailing lines with bounded memory, and Follow polls for
// appended lines until its context ends. A file that shrinks (rotated or
// truncated) is re-read from the start.
package logs
