// Package textutil provides filename sanitizing shared by the HTTP layer and
// the CLI.
//
// ASCIIFileName folds accented letters to their base form and replaces
// anything else a legacy Content-Disposition consumer could choke on.
package textutil
