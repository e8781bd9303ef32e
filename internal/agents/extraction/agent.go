// internal/agents/extraction/agent.go
package extraction

import (
	"context"
	"time"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

// Resolver matches a freeform term against the medication catalog.
// *store.Catalog satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, term string, threshold float64) (*store.CatalogMatch, error)
}

// Agent turns a conversation's turn history into a structured order
// candidate, or a clarification request when the utterance cannot be
// read unambiguously.
type Agent struct {
	config   *Config
	backend  ReasoningBackend
	resolver Resolver
	logger   logger.Logger
}

func NewAgent(cfg *Config, backend ReasoningBackend, resolver Resolver, log logger.Logger) *Agent {
	return &Agent{
		config:   cfg,
		backend:  backend,
		resolver: resolver,
		logger:   log.WithFields(map[string]interface{}{"agent": "extraction"}),
	}
}

// Extract parses the trailing turn history. Exactly one of the returned
// candidate and clarification is non-nil on success. A candidate with
// Ambiguous set carries the unresolved terms and must not be forwarded
// to safety checking.
func (a *Agent) Extract(ctx context.Context, patientID string, turns []models.Turn) (*models.OrderCandidate, *models.ClarificationRequest, error) {
	window := turns
	if a.config.HistoryUsed > 0 && len(window) > a.config.HistoryUsed {
		window = window[len(window)-a.config.HistoryUsed:]
	}

	parsed, err := a.backend.Parse(ctx, window)
	if err != nil {
		return nil, nil, err
	}

	if len(parsed.Mentions) == 0 {
		return nil, &models.ClarificationRequest{
			Field:  "medication",
			Prompt: "Which medication would you like to order?",
		}, nil
	}

	if parsed.Confidence < a.config.MinConfidence {
		a.logger.Info("extraction below confidence threshold", map[string]interface{}{
			"confidence": parsed.Confidence,
			"threshold":  a.config.MinConfidence,
		})
		return nil, &models.ClarificationRequest{
			Field:  "medication",
			Prompt: "I want to make sure I understood. Could you repeat the medication name and quantity?",
		}, nil
	}

	candidate := &models.OrderCandidate{
		PatientID:   patientID,
		ExtractedAt: time.Now().UTC(),
	}
	if len(turns) > 0 {
		candidate.SourceUtterance = turns[len(turns)-1].Text
	}

	for _, mention := range parsed.Mentions {
		match, err := a.resolver.Resolve(ctx, mention.Term, a.config.SimilarityThreshold)
		if err != nil {
			return nil, nil, err
		}
		if match == nil {
			candidate.Ambiguous = true
			candidate.UnresolvedTerms = append(candidate.UnresolvedTerms, mention.Term)
			a.logger.Info("unresolved medication term", map[string]interface{}{
				"term": mention.Term,
			})
			continue
		}

		item := models.CandidateItem{
			MedicationID:   match.Medication.ID,
			MedicationName: match.Medication.Name,
			Quantity:       mention.Quantity,
			DosageMG:       mention.DosageMG,
			DosesPerDay:    mention.DosesPerDay,
			RawTerm:        mention.Term,
			MatchScore:     match.Score,
		}
		if item.DosageMG == 0 {
			item.DosageMG = match.Medication.UnitDoseMG
		}
		candidate.Items = append(candidate.Items, item)
	}

	if candidate.Ambiguous {
		term := candidate.UnresolvedTerms[0]
		return candidate, &models.ClarificationRequest{
			Field:  "medication",
			Term:   term,
			Prompt: "I couldn't find \"" + term + "\" in our catalog. Could you give the exact medication name?",
		}, nil
	}

	for _, item := range candidate.Items {
		if item.Quantity == 0 {
			return candidate, &models.ClarificationRequest{
				Field:  "quantity",
				Term:   item.MedicationName,
				Prompt: "How many units of " + item.MedicationName + " would you like?",
			}, nil
		}
	}

	a.logger.Info("order candidate extracted", map[string]interface{}{
		"patientId": patientID,
		"items":     len(candidate.Items),
	})
	return candidate, nil, nil
}
