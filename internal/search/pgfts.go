package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// publicItemFilter restricts queries to what an anonymous viewer may see.
const publicItemFilter = "c.status = 'approved' AND c.visibility = 'public'"

const itemDocument = `to_tsvector('english', c.title || ' ' || c.description || ' ' || c.body)`

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole backend is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches public approved contributions with plainto_tsquery and
// ranks them with ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{publicItemFilter, itemDocument + " @@ " + tsQuery}
	if q.ProfileID != "" {
		args = append(args, q.ProfileID)
		where = append(where, fmt.Sprintf("c.profile_id = $%d", len(args)))
	}
	if q.ItemType != "" {
		args = append(args, q.ItemType)
		where = append(where, fmt.Sprintf("c.item_type = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM contributions c WHERE " + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.profile_id, pr.name, c.item_type, c.title,
			ts_headline('english', coalesce(nullif(c.description, ''), c.body), %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM contributions c
		JOIN profiles pr ON pr.id = c.profile_id
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, c.id
		LIMIT %d OFFSET %d`,
		tsQuery, whereSQL, itemDocument, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.ProfileName, &r.ItemType, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadPublicRecords returns every publicly disclosable item for a full reindex.
func (p *PgFTS) LoadPublicRecords(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.profile_id, pr.name, c.item_type, c.title, c.description, c.body, c.occurred_on
		FROM contributions c
		JOIN profiles pr ON pr.id = c.profile_id
		WHERE `+publicItemFilter)
	if err != nil {
		return nil, fmt.Errorf("load public items: %w", err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var r ItemRecord
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.ProfileName, &r.ItemType, &r.Title, &r.Description, &r.Body, &r.OccurredOn); err != nil {
			return nil, fmt.Errorf("scan public item: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public items: %w", err)
	}
	return records, nil
}
