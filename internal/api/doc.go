// Package api defines the wire-format types shared by the HTTP server and the
// CLI.
//
// # Responses
//
// Every JSON response carries a status of "success" or "error". Successful
// calls may attach Data (route specific); the listing route uses FilesPayload
// so the files array is always present. Failed calls carry an ErrorType from a
// small fixed vocabulary plus a human readable Error string. Clients branch on
// ErrorType, never on the message text.
//
// # Errors
//
// Components below the transport return *Error so the route layer can pick an
// HTTP status and payload without inspecting error strings. FromError maps
// service markers (timeouts, missing tokens, unauthorized) onto the vocabulary
// when a lower layer returns a plain error.
package api
