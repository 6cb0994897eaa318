package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// PostgresStore keeps the singleton document as row id = 1 of the statistics table.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewPostgresStore(db *sql.DB, logger *zap.SugaredLogger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context) (Statistics, error) {
	doc, err := s.find(ctx)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Statistics{}, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO statistics(id, online_users, downloads)
VALUES (1, 0, 0)
ON CONFLICT (id) DO NOTHING
`)
	if err != nil {
		return Statistics{}, fmt.Errorf("create statistics: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		s.logger.Infow("created statistics document", "table", StatisticsCollection)
		return Statistics{}, nil
	}

	// lost the insert race; read the winner's row
	return s.find(ctx)
}

func (s *PostgresStore) find(ctx context.Context) (Statistics, error) {
	var (
		doc         Statistics
		lastUpdated sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT online_users, downloads, last_updated
FROM statistics
WHERE id = 1
`).Scan(&doc.OnlineUsers, &doc.Downloads, &lastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Statistics{}, err
		}
		return Statistics{}, fmt.Errorf("find statistics: %w", err)
	}
	doc.LastUpdated = lastUpdated.String
	return doc, nil
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, d Delta) error {
	current, err := s.GetOrCreate(ctx)
	if err != nil {
		return err
	}
	d = ClampDelta(current, d)
	_, err = s.db.ExecContext(ctx, `
UPDATE statistics
SET online_users = GREATEST(online_users + $1, 0),
    downloads = GREATEST(downloads + $2, 0),
    last_updated = $3
WHERE id = 1
`, d.OnlineUsers, d.Downloads, FormatTimestamp(s.now()))
	if err != nil {
		return fmt.Errorf("update statistics: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, r Report) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reports(kind, description, message, date, caller)
VALUES ($1, $2, $3, $4, $5)
`, string(r.Kind), r.Description, r.Message, r.Date, r.Caller)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
