// Package app wires the release workflows (plan, version, publish and pr)
// to their collaborators: the git repository, the package registry and the
// code host. It is decoupled from any specific entrypoint like a CLI.
package app
