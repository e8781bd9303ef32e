// internal/agents/extraction/agent_test.go
package extraction

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

// fakeResolver resolves a fixed term table.
type fakeResolver struct {
	matches map[string]store.CatalogMatch
}

func (f *fakeResolver) Resolve(_ context.Context, term string, threshold float64) (*store.CatalogMatch, error) {
	for known, match := range f.matches {
		if strings.Contains(strings.ToLower(term), known) && match.Score >= threshold {
			m := match
			return &m, nil
		}
	}
	return nil, nil
}

func testResolver() *fakeResolver {
	return &fakeResolver{matches: map[string]store.CatalogMatch{
		"lisinopril": {
			Medication: models.Medication{ID: "med-lis", Name: "Lisinopril", UnitDoseMG: 10, PrescriptionRequired: true},
			Score:      1.0,
		},
		"blood pressure": {
			Medication: models.Medication{ID: "med-lis", Name: "Lisinopril", UnitDoseMG: 10, PrescriptionRequired: true},
			Score:      0.9,
		},
		"aspirin": {
			Medication: models.Medication{ID: "med-asp", Name: "Aspirin", UnitDoseMG: 325},
			Score:      1.0,
		},
	}}
}

func newTestAgent(t *testing.T) *Agent {
	cfg := LoadConfig()
	return NewAgent(cfg, &rulesBackend{}, testResolver(), logger.NewTestLogger(t))
}

func turn(text string) models.Turn {
	return models.Turn{Role: "patient", Text: text, Timestamp: time.Now().UTC()}
}

func TestRulesBackend_Parse(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantTerm    string
		wantQty     int
		wantDose    float64
		wantPerDay  float64
		wantNothing bool
	}{
		{
			name: "full order", text: "I want to order 30 tablets of lisinopril 10mg twice a day",
			wantTerm: "lisinopril", wantQty: 30, wantDose: 10, wantPerDay: 2,
		},
		{
			name: "refill without quantity", text: "refill my blood pressure medicine",
			wantTerm: "blood pressure medicine", wantQty: 0,
		},
		{
			name: "quantity only", text: "I need 20 pills of aspirin",
			wantTerm: "aspirin", wantQty: 20,
		},
		{
			name: "no medication mentioned", text: "hello there",
			wantNothing: true,
		},
	}

	b := &rulesBackend{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := b.Parse(context.Background(), []models.Turn{turn(tt.text)})
			require.NoError(t, err)

			if tt.wantNothing {
				assert.Empty(t, parsed.Mentions)
				return
			}
			require.Len(t, parsed.Mentions, 1)
			m := parsed.Mentions[0]
			assert.Equal(t, tt.wantTerm, m.Term)
			assert.Equal(t, tt.wantQty, m.Quantity)
			assert.Equal(t, tt.wantDose, m.DosageMG)
			assert.Equal(t, tt.wantPerDay, m.DosesPerDay)
		})
	}
}

func TestAgent_Extract_Confident(t *testing.T) {
	a := newTestAgent(t)

	candidate, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
		turn("order 30 tablets of lisinopril 10mg once a day"),
	})

	require.NoError(t, err)
	assert.Nil(t, clarification)
	require.NotNil(t, candidate)
	require.Len(t, candidate.Items, 1)
	assert.Equal(t, "med-lis", candidate.Items[0].MedicationID)
	assert.Equal(t, 30, candidate.Items[0].Quantity)
	assert.False(t, candidate.Ambiguous)
}

func TestAgent_Extract_MissingQuantityAsksClarification(t *testing.T) {
	a := newTestAgent(t)

	candidate, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
		turn("refill my blood pressure medicine"),
	})

	require.NoError(t, err)
	require.NotNil(t, clarification)
	assert.Equal(t, "quantity", clarification.Field)
	assert.Contains(t, clarification.Prompt, "Lisinopril")
	require.NotNil(t, candidate)
	assert.False(t, candidate.Ambiguous)
}

func TestAgent_Extract_UnresolvedTermFlagsAmbiguity(t *testing.T) {
	a := newTestAgent(t)

	candidate, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
		turn("I need 10 tablets of frobazine"),
	})

	require.NoError(t, err)
	require.NotNil(t, clarification)
	assert.Equal(t, "medication", clarification.Field)
	require.NotNil(t, candidate)
	assert.True(t, candidate.Ambiguous)
	assert.Contains(t, candidate.UnresolvedTerms[0], "frobazine")
}

func TestAgent_Extract_NoMedicationMentioned(t *testing.T) {
	a := newTestAgent(t)

	_, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
		turn("hi, how are you"),
	})

	require.NoError(t, err)
	require.NotNil(t, clarification)
	assert.Equal(t, "medication", clarification.Field)
}

func TestAgent_Extract_QuantityArrivesInLaterTurn(t *testing.T) {
	a := newTestAgent(t)

	candidate, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
		turn("refill my lisinopril"),
		{Role: "system", Text: "How many units of Lisinopril would you like?", Timestamp: time.Now().UTC()},
		turn("30 tablets please"),
	})

	require.NoError(t, err)
	assert.Nil(t, clarification)
	require.NotNil(t, candidate)
	require.Len(t, candidate.Items, 1)
	assert.Equal(t, 30, candidate.Items[0].Quantity)
}

func TestAgent_Extract_LowConfidenceAsksClarification(t *testing.T) {
	tests := []struct {
		name       string
		confidence string
		wantOrder  bool
	}{
		{name: "below threshold", confidence: "0.05", wantOrder: false},
		{name: "above threshold", confidence: "0.9", wantOrder: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"mentions":[{"term":"lisinopril","quantity":30}],"confidence":%s}`, tt.confidence)
			}))
			defer srv.Close()

			cfg := LoadConfig()
			cfg.Backend = "http"
			cfg.BaseURL = srv.URL
			a := NewAgent(cfg, NewBackend(cfg), testResolver(), logger.NewTestLogger(t))

			candidate, clarification, err := a.Extract(context.Background(), "pat-1", []models.Turn{
				turn("order 30 tablets of lisinopril"),
			})
			require.NoError(t, err)

			if tt.wantOrder {
				assert.Nil(t, clarification)
				require.NotNil(t, candidate)
				require.Len(t, candidate.Items, 1)
				return
			}
			assert.Nil(t, candidate)
			require.NotNil(t, clarification)
			assert.Equal(t, "medication", clarification.Field)
		})
	}
}
