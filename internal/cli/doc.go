// Package cli provides the offline passkeeper command-line companion.
//
// It runs a small REPL around the password generator and strength scorer:
//   - generate: produce passwords from a character-class policy, optionally
//     copying the first one to the clipboard
//   - check: score a password typed without echo
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
