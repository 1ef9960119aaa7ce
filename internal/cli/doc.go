// Package cli is responsible for the command tree, flag parsing and the
// mapping of failures to process exit codes. It translates flags into
// app.Options and runs the matching workflow.
package cli
