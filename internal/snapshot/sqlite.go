package snapshot

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jtwolab/rankops/internal/model"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rank_snapshots (
	unique_key      TEXT PRIMARY KEY,
	date            TEXT NOT NULL,
	time_slot       TEXT NOT NULL,
	agency          TEXT NOT NULL DEFAULT '',
	client_name     TEXT NOT NULL DEFAULT '',
	"group"         TEXT NOT NULL DEFAULT '',
	keyword         TEXT NOT NULL,
	place_url       TEXT NOT NULL,
	place_id        TEXT NOT NULL DEFAULT '',
	rank            INTEGER,
	saves           INTEGER,
	blog_reviews    INTEGER,
	visitor_reviews INTEGER,
	n2_score        REAL,
	collected_at    TEXT NOT NULL,
	source          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rank_snapshots_date ON rank_snapshots(date);
`

const sqliteColumns = `unique_key, date, time_slot, agency, client_name, "group", keyword, place_url, place_id, rank, saves, blog_reviews, visitor_reviews, n2_score, collected_at, source`

// SQLiteRepository stores snapshots in an embedded SQLite file.
type SQLiteRepository struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteRepository opens path in WAL mode and migrates the schema.
func NewSQLiteRepository(ctx context.Context, path string, opts Options) (*SQLiteRepository, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "snapshot: sqlite exec %s", pragma)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteMigration); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "snapshot: sqlite migrate")
	}
	return &SQLiteRepository{db: conn, opts: opts.withDefaults()}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) UpsertBulk(ctx context.Context, records []model.RankSnapshot) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}
	p := prepare(records, r.opts)
	res.Failed = p.failed
	if len(p.records) == 0 {
		return res, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "snapshot: sqlite begin")
	}
	defer tx.Rollback() //nolint:errcheck

	exists, err := tx.PrepareContext(ctx, `SELECT 1 FROM rank_snapshots WHERE unique_key = ?`)
	if err != nil {
		return res, eris.Wrap(err, "snapshot: sqlite prepare lookup")
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `INSERT INTO rank_snapshots (`+sqliteColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(unique_key) DO UPDATE SET
	date = excluded.date, time_slot = excluded.time_slot, agency = excluded.agency,
	client_name = excluded.client_name, "group" = excluded."group", keyword = excluded.keyword,
	place_url = excluded.place_url, place_id = excluded.place_id, rank = excluded.rank,
	saves = excluded.saves, blog_reviews = excluded.blog_reviews,
	visitor_reviews = excluded.visitor_reviews, n2_score = excluded.n2_score,
	collected_at = excluded.collected_at, source = excluded.source`)
	if err != nil {
		return res, eris.Wrap(err, "snapshot: sqlite prepare upsert")
	}
	defer upsert.Close()

	var updated, added int
	for _, s := range p.records {
		var one int
		switch err := exists.QueryRowContext(ctx, s.UniqueKey).Scan(&one); {
		case err == nil:
			updated++
		case eris.Is(err, sql.ErrNoRows):
			added++
		default:
			return res, eris.Wrap(err, "snapshot: sqlite lookup")
		}
		if _, err := upsert.ExecContext(ctx,
			s.UniqueKey, s.Date, s.TimeSlot, s.Agency, s.ClientName, s.Group,
			s.Keyword, s.PlaceURL, s.PlaceID, nullInt(s.Rank), nullInt(s.Saves),
			nullInt(s.BlogReviews), nullInt(s.VisitorReviews), nullFloat(s.PopularityScore),
			s.CollectedAt, s.Source,
		); err != nil {
			return res, eris.Wrapf(err, "snapshot: sqlite upsert %s", s.UniqueKey)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, eris.Wrap(err, "snapshot: sqlite commit")
	}

	res.Added = added
	res.Updated = updated + p.dups
	res.Success = len(p.records) + p.dups
	zap.L().Info("snapshot: upsert complete",
		zap.String("backend", "sqlite"),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *SQLiteRepository) History(ctx context.Context, q HistoryQuery) ([]model.RankSnapshot, error) {
	f := newFilter(q, r.opts.now())
	var where []string
	var args []any
	if f.from != "" {
		where, args = append(where, "date >= ?"), append(args, f.from)
	}
	if f.to != "" {
		where, args = append(where, "date <= ?"), append(args, f.to)
	}
	if f.keyword != "" {
		where, args = append(where, "keyword = ?"), append(args, f.keyword)
	}
	if f.placeID != "" {
		where, args = append(where, "place_id = ?"), append(args, f.placeID)
	}
	query := "SELECT " + sqliteColumns + " FROM rank_snapshots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, time_slot DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: sqlite history")
	}
	defer rows.Close()

	var out []model.RankSnapshot
	for rows.Next() {
		var s model.RankSnapshot
		var rank, saves, blog, visitor sql.NullInt64
		var score sql.NullFloat64
		if err := rows.Scan(
			&s.UniqueKey, &s.Date, &s.TimeSlot, &s.Agency, &s.ClientName, &s.Group,
			&s.Keyword, &s.PlaceURL, &s.PlaceID, &rank, &saves, &blog, &visitor, &score,
			&s.CollectedAt, &s.Source,
		); err != nil {
			return nil, eris.Wrap(err, "snapshot: sqlite scan")
		}
		s.Rank, s.Saves, s.BlogReviews, s.VisitorReviews = intPtr(rank), intPtr(saves), intPtr(blog), intPtr(visitor)
		if score.Valid {
			s.PopularityScore = model.FloatPtr(score.Float64)
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "snapshot: sqlite history rows")
}

func (r *SQLiteRepository) DatesWithData(ctx context.Context, from, to string) (map[string]int, error) {
	from, to = dateBounds(from, to)
	rows, err := r.db.QueryContext(ctx,
		`SELECT date, COUNT(*) FROM rank_snapshots WHERE date >= ? AND date <= ? GROUP BY date`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: sqlite dates")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var date string
		var n int
		if err := rows.Scan(&date, &n); err != nil {
			return nil, eris.Wrap(err, "snapshot: sqlite scan dates")
		}
		counts[date] = n
	}
	return counts, eris.Wrap(rows.Err(), "snapshot: sqlite dates rows")
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return model.IntPtr(int(n.Int64))
}
