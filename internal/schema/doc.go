// Package schema holds the document type registry consumed by the model.
//
// A registry declares schemas (named groups of typed fields sharing a
// property prefix) and document types (a name, an optional super type and
// the schemas the type carries). Subtypes inherit the schemas and facets
// of their super types. The Orderable facet keeps a type's children in an
// explicit order.
//
// Registries are built either with the Go API:
//
//	reg := schema.NewRegistry()
//	_ = reg.AddSchema("dublincore", "dc",
//		schema.Field{Name: "title", Kind: schema.KindString},
//		schema.Field{Name: "subjects", Kind: schema.KindString, Array: true},
//	)
//	_ = reg.AddType("File", "Document", "dublincore")
//
// or from a directory of CUE files with LoadDir:
//
//	schema: dublincore: {
//		prefix: "dc"
//		fields: {title: "string", subjects: "string[]"}
//	}
//	type: File: {super: "Document", schemas: ["dublincore"]}
//
// A registry is read-only once handed to the model.
package schema
