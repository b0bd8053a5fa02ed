// Package schemas embeds the JSON Schema documents for data exchanged with the backend
// and for user-supplied stage vocabularies.
package schemas

import _ "embed"

// ResultArtifact is the schema for the body of GET /results/{id}.
//
//go:embed result_artifact.schema.json
var ResultArtifact string

// Vocabulary is the schema for stage vocabulary files.
//
//go:embed vocabulary.schema.json
var Vocabulary string

// Transcript is the schema for replay transcript files served by the development backend.
//
//go:embed transcript.schema.json
var Transcript string
