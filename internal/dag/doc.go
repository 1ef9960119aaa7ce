// Package dag holds the workspace package graph: which packages depend on
// which, the reverse "dependents" adjacency used for cascading bumps, and the
// level-ordered topological sort used for both cascade propagation and
// publish ordering.
//
// Traversals use explicit work-lists. Workspace graphs are user controlled
// and may be deep.
package dag
