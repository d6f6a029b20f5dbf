// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/schema"
)

// FixtureCUE is the fixture registry in CUE form, for loader and CLI tests.
const FixtureCUE = `
schema: common: {
	fields: icon: "string"
}
schema: dublincore: {
	prefix: "dc"
	fields: {
		title:       "string"
		description: "text"
		subjects:    "string[]"
		created:     "date"
		modified:    "date"
	}
}
schema: file: {
	fields: {
		filename: "string"
		content:  "binary"
		size:     "long"
	}
}
schema: note: {
	prefix: "note"
	fields: {
		note:      "text"
		rating:    "double"
		published: "boolean"
	}
}
type: Document: {}
type: Folder: {
	super: "Document"
	schemas: ["common", "dublincore"]
}
type: OrderedFolder: {
	super: "Folder"
	facets: ["Orderable"]
}
type: File: {
	super: "Document"
	schemas: ["common", "dublincore", "file"]
}
type: Note: {
	super: "Document"
	schemas: ["common", "dublincore", "note"]
}
type: Attachment: {
	schemas: ["file"]
}
`

// NewRegistry builds the fixture registry with the Go API.
//
// Types: Document, Folder, OrderedFolder, File, Note and the complex
// property type Attachment.
func NewRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.AddSchema("common", "",
		schema.Field{Name: "icon", Kind: schema.KindString},
	))
	require.NoError(t, reg.AddSchema("dublincore", "dc",
		schema.Field{Name: "title", Kind: schema.KindString},
		schema.Field{Name: "description", Kind: schema.KindText},
		schema.Field{Name: "subjects", Kind: schema.KindString, Array: true},
		schema.Field{Name: "created", Kind: schema.KindDate},
		schema.Field{Name: "modified", Kind: schema.KindDate},
	))
	require.NoError(t, reg.AddSchema("file", "",
		schema.Field{Name: "filename", Kind: schema.KindString},
		schema.Field{Name: "content", Kind: schema.KindBinary},
		schema.Field{Name: "size", Kind: schema.KindLong},
	))
	require.NoError(t, reg.AddSchema("note", "note",
		schema.Field{Name: "note", Kind: schema.KindText},
		schema.Field{Name: "rating", Kind: schema.KindDouble},
		schema.Field{Name: "published", Kind: schema.KindBoolean},
	))
	require.NoError(t, reg.AddType("Document", ""))
	require.NoError(t, reg.AddType("Folder", "Document", "common", "dublincore"))
	require.NoError(t, reg.AddType("OrderedFolder", "Folder"))
	require.NoError(t, reg.AddFacets("OrderedFolder", schema.FacetOrderable))
	require.NoError(t, reg.AddType("File", "Document", "common", "dublincore", "file"))
	require.NoError(t, reg.AddType("Note", "Document", "common", "dublincore", "note"))
	require.NoError(t, reg.AddType("Attachment", "", "file"))
	return reg
}
