// Package queryir defines the document query: the structured form a
// caller hands to the query compiler, and the text syntax it is parsed
// from.
//
// A query selects nodes of one or more document types, optionally filtered
// by a WHERE predicate over schema properties and system properties, and
// optionally ordered:
//
//	SELECT * FROM File, Note
//	WHERE dc:title = 'Report' AND (ecm:pos >= 2 OR dc:subjects IN ('a', 'b'))
//	ORDER BY dc:modified DESC
//
// The result of a query is always a list of node ids; the projection is
// fixed to `*`.
//
// SEALED INTERFACES:
//
// Predicate and Value are sealed with marker methods so that the compiler
// can switch over every variant:
//
//	switch p := pred.(type) {
//	case *Comparison:
//	case *In:
//	case *Between:
//	case *IsNull:
//	case *StartsWith:
//	case *And, *Or, *Not:
//	}
//
// Field names are not resolved here. The compiler resolves them against
// the model and rejects unknown ones before issuing any SQL.
package queryir
