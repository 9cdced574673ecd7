// Package services defines shared utilities consumed by the cloud client,
// converter, and HTTP handlers.
//
// Key responsibilities:
//   - Context helpers that stamp correlation and session identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     upstream failures with errors.Is.
package services
