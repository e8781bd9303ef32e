// internal/agents/extraction/models.go
package extraction

// Mention is one medication reference a reasoning backend pulled out
// of an utterance, before catalog resolution.
type Mention struct {
	Term        string  `json:"term"`
	Quantity    int     `json:"quantity"`    // 0 when not stated
	DosageMG    float64 `json:"dosageMg"`    // 0 when not stated
	DosesPerDay float64 `json:"dosesPerDay"` // 0 when not stated
}

// ParsedUtterance is the raw structured reading of the turn history.
type ParsedUtterance struct {
	Mentions   []Mention `json:"mentions"`
	Confidence float64   `json:"confidence"`
}
