// Package session is the document-facing layer: a Repository shared by
// many Sessions, each a unit of work over nodes and their properties.
//
// A Session works on its own connection. Outside a transaction, Save
// commits pending changes at once. Inside a transaction driven by an
// xa.Coordinator, changes are flushed at End and become visible to other
// sessions at Commit:
//
//	tx, err := repo.Coordinator().Begin(ctx, s)
//	...
//	n, err := s.AddChildNode(ctx, root, "report", "File", false)
//	err = n.SetValue(ctx, "dc:title", "Report")
//	err = tx.Commit(ctx)
//
// Other sessions see committed changes at their next Save or transaction
// start, never in the middle of one.
package session
