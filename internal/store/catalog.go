// internal/store/catalog.go
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// CatalogMatch is one fuzzy-match result against the medication
// catalog. Score is in [0, 1].
type CatalogMatch struct {
	Medication models.Medication
	Score      float64
}

// Catalog resolves freeform medication terms against the catalog.
// Elasticsearch fuzzy search is preferred; when it is disabled or
// unavailable the catalog falls back to an in-database scan scored by
// normalized edit distance.
type Catalog struct {
	db      *sql.DB
	es      *elasticsearch.Client
	esIndex string
}

func NewCatalog(db *sql.DB, es *elasticsearch.Client, esIndex string) *Catalog {
	return &Catalog{db: db, es: es, esIndex: esIndex}
}

// Resolve finds the best catalog match for a term. Returns (nil, nil)
// when nothing scores at or above threshold.
func (c *Catalog) Resolve(ctx context.Context, term string, threshold float64) (*CatalogMatch, error) {
	if c.es != nil {
		match, err := c.resolveES(ctx, term)
		if err == nil {
			if match != nil && match.Score >= threshold {
				return match, nil
			}
			return nil, nil
		}
		// fall through to the database scan on search failure
	}
	return c.resolveSQL(ctx, term, threshold)
}

func (c *Catalog) resolveES(ctx context.Context, term string) (*CatalogMatch, error) {
	query := map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     term,
				"fields":    []string{"name^2", "aliases"},
				"fuzziness": "AUTO",
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, stderrors.NewCatalogSearchFailedError(term, err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.esIndex),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, stderrors.NewCatalogSearchFailedError(term, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, stderrors.NewCatalogSearchFailedError(term, fmt.Errorf("search error: %s", res.Status()))
	}

	var body struct {
		Hits struct {
			MaxScore float64 `json:"max_score"`
			Hits     []struct {
				Score  float64           `json:"_score"`
				Source models.Medication `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, stderrors.NewCatalogSearchFailedError(term, err)
	}

	if len(body.Hits.Hits) == 0 {
		return nil, nil
	}

	hit := body.Hits.Hits[0]
	// ES scores are unbounded; re-score the winning hit against the
	// term so the configured similarity threshold applies uniformly
	// across backends.
	score := bestSimilarity(term, hit.Source)
	return &CatalogMatch{Medication: hit.Source, Score: score}, nil
}

func (c *Catalog) resolveSQL(ctx context.Context, term string, threshold float64) (*CatalogMatch, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, aliases, unit_dose_mg, prescription_required, max_daily_dose_mg FROM medications`,
	)
	if err != nil {
		return nil, stderrors.NewCatalogSearchFailedError(term, err)
	}
	defer rows.Close()

	var best *CatalogMatch
	for rows.Next() {
		var (
			med        models.Medication
			rawAliases []byte
		)
		if err := rows.Scan(
			&med.ID, &med.Name, &rawAliases,
			&med.UnitDoseMG, &med.PrescriptionRequired, &med.MaxDailyDoseMG,
		); err != nil {
			return nil, stderrors.NewCatalogSearchFailedError(term, err)
		}
		if len(rawAliases) > 0 {
			if err := json.Unmarshal(rawAliases, &med.Aliases); err != nil {
				return nil, stderrors.NewCatalogSearchFailedError(term, fmt.Errorf("decode aliases: %w", err))
			}
		}

		score := bestSimilarity(term, med)
		if best == nil || score > best.Score {
			best = &CatalogMatch{Medication: med, Score: score}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewCatalogSearchFailedError(term, err)
	}

	if best == nil || best.Score < threshold {
		return nil, nil
	}
	return best, nil
}

// GetMedication loads one catalog entry by id.
func (c *Catalog) GetMedication(ctx context.Context, medicationID string) (*models.Medication, error) {
	var (
		med        models.Medication
		rawAliases []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, aliases, unit_dose_mg, prescription_required, max_daily_dose_mg
		 FROM medications WHERE id = $1`,
		medicationID,
	).Scan(
		&med.ID, &med.Name, &rawAliases,
		&med.UnitDoseMG, &med.PrescriptionRequired, &med.MaxDailyDoseMG,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("catalog.getMedication", err)
	}
	if len(rawAliases) > 0 {
		if err := json.Unmarshal(rawAliases, &med.Aliases); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("catalog.getMedication", err)
		}
	}
	return &med, nil
}

// bestSimilarity scores a term against a medication's name and every
// alias, keeping the best.
func bestSimilarity(term string, med models.Medication) float64 {
	best := similarity(term, med.Name)
	for _, alias := range med.Aliases {
		if s := similarity(term, alias); s > best {
			best = s
		}
	}
	return best
}

// similarity is 1 - normalized Levenshtein distance over lowercased
// input. Substring containment short-circuits to a high score so
// "blood pressure medicine" style phrasing still resolves aliases.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}

	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
