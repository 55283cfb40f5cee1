// Package annotator defines the core types and ports shared by the image
// annotation webapp: the blob store holding image and attribute files, the
// optional write ledger, and the write notification publisher.
package annotator
