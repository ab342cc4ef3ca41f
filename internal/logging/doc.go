// Package logging centralizes slog construction for tomarr.
//
// Components receive a *slog.Logger tagged via WithComponent and use the typed
// attr helpers so field names stay consistent between the console and JSON
// output formats.
package logging
