package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Store is the read-only gateway to the product catalog. Catalog ingestion is
// owned by an external pipeline; this service never writes these tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const productColumns = `product_code,
	product_name,
	COALESCE(alternate_name, ''),
	COALESCE(description, ''),
	COALESCE(url, ''),
	COALESCE(thumbnail, ''),
	COALESCE(price, 0),
	COALESCE(currency, ''),
	COALESCE(category, '')`

// ByCodes looks up products by exact code. Unknown codes are skipped; the
// result preserves the order of the codes argument.
func (s *Store) ByCodes(ctx context.Context, codes []string) ([]ProductRef, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+productColumns+`
		 FROM advisor.products
		 WHERE product_code = ANY($1)`,
		pq.Array(codes),
	)
	if err != nil {
		return nil, fmt.Errorf("products by codes: %w", err)
	}
	defer rows.Close()

	byCode := make(map[string]ProductRef, len(codes))
	for rows.Next() {
		ref, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		byCode[ref.Code] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("products by codes rows: %w", err)
	}

	ordered := make([]ProductRef, 0, len(byCode))
	for _, code := range codes {
		if ref, ok := byCode[code]; ok {
			ordered = append(ordered, ref)
		}
	}
	return ordered, nil
}

// SearchByName performs a case-insensitive substring lookup against the
// primary and alternate product names, optionally restricted to a category
// allow-list.
func (s *Store) SearchByName(ctx context.Context, name string, categories []string) ([]ProductRef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	query := `SELECT ` + productColumns + `
		 FROM advisor.products
		 WHERE (product_name ILIKE $1 OR alternate_name ILIKE $1)`
	args := []any{"%" + name + "%"}
	if len(categories) > 0 {
		query += ` AND category = ANY($2)`
		args = append(args, pq.Array(categories))
	}
	query += ` ORDER BY char_length(product_name) ASC LIMIT 10`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("products by name: %w", err)
	}
	defer rows.Close()

	var refs []ProductRef
	for rows.Next() {
		ref, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("products by name rows: %w", err)
	}
	return refs, nil
}

func scanProduct(rows *sql.Rows) (ProductRef, error) {
	var ref ProductRef
	if err := rows.Scan(
		&ref.Code,
		&ref.DisplayName,
		&ref.AlternateName,
		&ref.Description,
		&ref.URL,
		&ref.ImageURL,
		&ref.Price,
		&ref.Currency,
		&ref.Category,
	); err != nil {
		return ProductRef{}, fmt.Errorf("scan product: %w", err)
	}
	return ref, nil
}
