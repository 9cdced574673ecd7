// Package convert runs the external document converter.
//
// The converter is an arbitrary command line. The downloaded archive is
// written to a private temp directory, its path is appended as the final
// argument, and the converted bytes are read from stdout. Failures are
// reported as *Failure values attributed to the document and version.
package convert
