package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/db"
	"github.com/jtwolab/rankops/internal/model"
)

// PostgresTable is the snapshot table name.
const PostgresTable = "rank_snapshots"

const postgresMigration = `
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
	n2_score        DOUBLE PRECISION,
	collected_at    TEXT NOT NULL,
	source          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rank_snapshots_date ON rank_snapshots (date);
CREATE INDEX IF NOT EXISTS idx_rank_snapshots_place_id ON rank_snapshots (place_id);
`

// PostgresRepository stores snapshots in Postgres via db.BulkUpsert.
type PostgresRepository struct {
	pool db.Pool
	opts Options
}

// NewPostgresRepository wraps an open pool.
func NewPostgresRepository(pool db.Pool, opts Options) *PostgresRepository {
	return &PostgresRepository{pool: pool, opts: opts.withDefaults()}
}

// Migrate creates the table and indexes when absent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "snapshot: postgres migrate")
}

func (r *PostgresRepository) UpsertBulk(ctx context.Context, records []model.RankSnapshot) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}
	p := prepare(records, r.opts)
	res.Failed = p.failed
	if len(p.records) == 0 {
		return res, nil
	}

	rows := make([][]any, len(p.records))
	for i, s := range p.records {
		rows[i] = []any{
			s.UniqueKey, s.Date, s.TimeSlot, s.Agency, s.ClientName, s.Group,
			s.Keyword, s.PlaceURL, s.PlaceID, s.Rank, s.Saves, s.BlogReviews,
			s.VisitorReviews, s.PopularityScore, s.CollectedAt, s.Source,
		}
	}

	ur, err := db.BulkUpsert(ctx, r.pool, db.UpsertConfig{
		Table:        PostgresTable,
		Columns:      model.SnapshotHeaders,
		ConflictKeys: []string{"unique_key"},
	}, rows)
	if err != nil {
		return res, eris.Wrap(err, "snapshot: postgres upsert")
	}

	res.Added = int(ur.Inserted)
	res.Updated = int(ur.Updated) + p.dups
	res.Success = len(p.records) + p.dups
	zap.L().Info("snapshot: upsert complete",
		zap.String("backend", "postgres"),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

var selectColumns = func() string {
	quoted := make([]string, len(model.SnapshotHeaders))
	for i, c := range model.SnapshotHeaders {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}()

func (r *PostgresRepository) History(ctx context.Context, q HistoryQuery) ([]model.RankSnapshot, error) {
	f := newFilter(q, r.opts.now())
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.from != "" {
		add("date >= $%d", f.from)
	}
	if f.to != "" {
		add("date <= $%d", f.to)
	}
	if f.keyword != "" {
		add("keyword = $%d", f.keyword)
	}
	if f.placeID != "" {
		add("place_id = $%d", f.placeID)
	}

	sql := "SELECT " + selectColumns + " FROM " + PostgresTable
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY date DESC, time_slot DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: postgres history")
	}
	defer rows.Close()

	var out []model.RankSnapshot
	for rows.Next() {
		var s model.RankSnapshot
		if err := rows.Scan(
			&s.UniqueKey, &s.Date, &s.TimeSlot, &s.Agency, &s.ClientName, &s.Group,
			&s.Keyword, &s.PlaceURL, &s.PlaceID, &s.Rank, &s.Saves, &s.BlogReviews,
			&s.VisitorReviews, &s.PopularityScore, &s.CollectedAt, &s.Source,
		); err != nil {
			return nil, eris.Wrap(err, "snapshot: postgres scan")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "snapshot: postgres history rows")
}

func (r *PostgresRepository) DatesWithData(ctx context.Context, from, to string) (map[string]int, error) {
	from, to = dateBounds(from, to)
	rows, err := r.pool.Query(ctx,
		"SELECT date, COUNT(*) FROM "+PostgresTable+" WHERE date >= $1 AND date <= $2 GROUP BY date",
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: postgres dates")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var date string
		var n int64
		if err := rows.Scan(&date, &n); err != nil {
			return nil, eris.Wrap(err, "snapshot: postgres scan dates")
		}
		counts[date] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "snapshot: postgres dates rows")
}
