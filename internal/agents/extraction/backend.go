// internal/agents/extraction/backend.go
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/validation"
	"pharmacy-agents/internal/models"
)

// ReasoningBackend reads structure out of a turn history. Implementations
// may call an external model or apply deterministic rules; the agent only
// depends on this contract.
type ReasoningBackend interface {
	Parse(ctx context.Context, turns []models.Turn) (*ParsedUtterance, error)
}

// NewBackend builds the backend named in config. Unknown names fall
// back to rules.
func NewBackend(cfg *Config) ReasoningBackend {
	if cfg.Backend == "http" && cfg.BaseURL != "" {
		return &httpBackend{
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey,
			client:  &http.Client{Timeout: cfg.Timeout},
		}
	}
	return &rulesBackend{}
}

// rulesBackend is the deterministic parser. It handles the common
// phrasings directly; anything it cannot read comes back with zero
// values and the agent turns that into a clarification.
type rulesBackend struct{}

var (
	dosageRe    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*mg\b`)
	quantityRe  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:tablets?|pills?|capsules?|units?|count)\b`)
	frequencyRe = regexp.MustCompile(`(?i)\b(once|twice|thrice|\d+\s*times?)\s*(?:a\s+day|daily|per\s+day)\b`)
	// "refill my lisinopril", "order 30 tablets of metformin", "I need
	// aspirin". The captured term runs until a number, punctuation, or
	// end of input.
	mentionRe = regexp.MustCompile(`(?i)(?:refill|order|need)\s+(?:my\s+|some\s+|a\s+)?(?:\d+\s*(?:tablets?|pills?|capsules?|units?)\s+of\s+)?([a-z][a-z\- ]*?)(?:\s+\d|\s*[,.!?]|$)`)
)

// stopTerms are captures that are filler, not medication names.
var stopTerms = map[string]bool{
	"medicine": true, "medication": true, "meds": true, "refill": true,
	"prescription": true, "it": true, "them": true, "more": true,
}

func (b *rulesBackend) Parse(_ context.Context, turns []models.Turn) (*ParsedUtterance, error) {
	var sb strings.Builder
	for _, t := range turns {
		if t.Role == "patient" {
			sb.WriteString(t.Text)
			sb.WriteString(". ")
		}
	}
	text := sb.String()

	term := extractTerm(text)
	if term == "" {
		return &ParsedUtterance{Confidence: 0}, nil
	}

	mention := Mention{Term: term}
	if m := quantityRe.FindStringSubmatch(text); m != nil {
		mention.Quantity, _ = strconv.Atoi(m[1])
	}
	if m := dosageRe.FindStringSubmatch(text); m != nil {
		mention.DosageMG, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := frequencyRe.FindStringSubmatch(text); m != nil {
		mention.DosesPerDay = parseFrequency(m[1])
	}

	return &ParsedUtterance{
		Mentions:   []Mention{mention},
		Confidence: 1.0,
	}, nil
}

func extractTerm(text string) string {
	m := mentionRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	term := strings.TrimSpace(strings.ToLower(m[1]))
	// strip trailing filler words so "lisinopril medication" still
	// resolves, but keep descriptive phrases like "blood pressure
	// medicine" intact for the catalog's alias matching
	fields := strings.Fields(term)
	if len(fields) == 1 && stopTerms[fields[0]] {
		return ""
	}
	return term
}

func parseFrequency(word string) float64 {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "once":
		return 1
	case "twice":
		return 2
	case "thrice":
		return 3
	}
	digits := strings.Fields(word)
	if len(digits) > 0 {
		if n, err := strconv.Atoi(digits[0]); err == nil {
			return float64(n)
		}
	}
	return 0
}

// replySchema constrains an external backend's reply before it is
// trusted.
const replySchema = `{
	"type": "object",
	"required": ["mentions", "confidence"],
	"properties": {
		"mentions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["term"],
				"properties": {
					"term": {"type": "string", "minLength": 1},
					"quantity": {"type": "integer", "minimum": 0},
					"dosageMg": {"type": "number", "minimum": 0},
					"dosesPerDay": {"type": "number", "minimum": 0}
				}
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// httpBackend delegates parsing to an external reasoning service.
type httpBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (b *httpBackend) Parse(ctx context.Context, turns []models.Turn) (*ParsedUtterance, error) {
	payload, err := json.Marshal(map[string]interface{}{"turns": turns})
	if err != nil {
		return nil, stderrors.NewExtractionBackendFailedError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/extract", bytes.NewReader(payload))
	if err != nil {
		return nil, stderrors.NewExtractionBackendFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, stderrors.NewExtractionTimeoutError()
		}
		return nil, stderrors.NewExtractionBackendFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, stderrors.NewExtractionBackendFailedError(fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stderrors.NewExtractionBackendFailedError(err)
	}

	if err := validation.ValidateJSON(replySchema, body); err != nil {
		return nil, stderrors.NewAgentResponseMalformedError(err.Error())
	}

	var parsed ParsedUtterance
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, stderrors.NewAgentResponseMalformedError(err.Error())
	}
	return &parsed, nil
}
