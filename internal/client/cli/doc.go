// Package cli provides the gophdine command-line client.
//
// It wires configuration, the token store, the HTTP transport and the
// session controller, and exposes them as cobra commands (login, register,
// verify, get, ...) and as an interactive shell.
//
// Each command invocation builds one App, restores the stored session
// (see App.Hydrate) and runs a single action. A pending second factor only
// lives inside one process, so two-step logins prompt for the code right
// away; the shell keeps the pending login between commands.
package cli
