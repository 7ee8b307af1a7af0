package models

// Query types. A classification starts Unclassified and moves to exactly one
// terminal type.
const (
	QueryTypeUnclassified = "UNCLASSIFIED"
	QueryTypeStructured   = "STRUCTURED"
	QueryTypeDocument     = "DOCUMENT"
	QueryTypeHybrid       = "HYBRID"
)

// Query intents.
const (
	IntentCount     = "count"
	IntentAggregate = "aggregate"
	IntentList      = "list"
	IntentFilter    = "filter"
	IntentSearch    = "search"
)

// Query complexity levels.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// QueryClassification records how a query will be resolved. Rationale is never empty.
type QueryClassification struct {
	Type          string   `json:"type"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale"`
	Intent        string   `json:"intent,omitempty"`
	Complexity    string   `json:"complexity,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"` // routing filter for document search
}

// WantsStructured reports whether the structured branch runs.
func (c QueryClassification) WantsStructured() bool {
	return c.Type == QueryTypeStructured || c.Type == QueryTypeHybrid
}

// WantsDocuments reports whether the document branch runs.
func (c QueryClassification) WantsDocuments() bool {
	return c.Type == QueryTypeDocument || c.Type == QueryTypeHybrid
}
