package advisor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Pairing is one row of the pre-authored problem-to-product table. The two
// supplement flags drive fixed upsell toggles in the widget; they are data,
// not derived state.
type Pairing struct {
	ProductCodes []string
	SupplementA  bool
	SupplementB  bool
}

// PairingEngine looks up product recommendations for classified problem
// tags. The table is curated offline; the engine never writes.
type PairingEngine struct {
	db *sql.DB
}

func NewPairingEngine(db *sql.DB) *PairingEngine {
	return &PairingEngine{db: db}
}

// Pair returns the highest-priority pairing whose tags overlap the given
// problem tags. No overlap is a normal outcome and returns an empty pairing
// with a nil error.
func (e *PairingEngine) Pair(ctx context.Context, problemTags []string) (Pairing, error) {
	if len(problemTags) == 0 {
		return Pairing{}, nil
	}

	var (
		codes       pq.StringArray
		supplementA bool
		supplementB bool
	)
	err := e.db.QueryRowContext(
		ctx,
		`SELECT product_codes, supplement_a, supplement_b
		 FROM advisor.problem_pairings
		 WHERE problem_tags && $1
		 ORDER BY priority ASC, id ASC
		 LIMIT 1`,
		pq.Array(problemTags),
	).Scan(&codes, &supplementA, &supplementB)
	if errors.Is(err, sql.ErrNoRows) {
		return Pairing{}, nil
	}
	if err != nil {
		return Pairing{}, fmt.Errorf("query problem pairings: %w", err)
	}
	return Pairing{ProductCodes: codes, SupplementA: supplementA, SupplementB: supplementB}, nil
}
