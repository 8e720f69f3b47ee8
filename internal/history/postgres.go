package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/aegisflux/riskengine/internal/model"
)

// Schema creates the score history table when it does not exist
const Schema = `
CREATE TABLE IF NOT EXISTS resilience_scores (
	id                  BIGSERIAL PRIMARY KEY,
	target              TEXT NOT NULL,
	vrs_score           DOUBLE PRECISION NOT NULL,
	grade               TEXT NOT NULL,
	risk_category       TEXT NOT NULL,
	profile             TEXT NOT NULL,
	component_scores    JSONB NOT NULL,
	breakdown           JSONB NOT NULL,
	metrics             JSONB NOT NULL,
	recommendations     JSONB NOT NULL,
	previous_score      DOUBLE PRECISION,
	score_change        DOUBLE PRECISION,
	trend               TEXT,
	calculated_at       TIMESTAMPTZ NOT NULL,
	calculation_version TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resilience_scores_target_time
	ON resilience_scores (target, calculated_at DESC);
`

const selectColumns = `
	target, vrs_score, grade, risk_category, profile,
	component_scores, breakdown, metrics, recommendations,
	previous_score, score_change, trend, calculated_at, calculation_version
`

// PostgresStore persists score history in postgres
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens the history database and makes sure the schema exists
func NewPostgresStore(ctx context.Context, dsn string, maxOpenConns int, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Health checks if the database is accessible
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save inserts one score row
func (s *PostgresStore) Save(ctx context.Context, score *model.ResilienceScore) error {
	components, err := json.Marshal(score.Components)
	if err != nil {
		return fmt.Errorf("failed to encode components: %w", err)
	}
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}
	metrics, err := json.Marshal(score.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	recs, err := json.Marshal(score.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	query := `
		INSERT INTO resilience_scores (
			target, vrs_score, grade, risk_category, profile,
			component_scores, breakdown, metrics, recommendations,
			previous_score, score_change, trend, calculated_at, calculation_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		score.Target, score.VRSScore, score.Grade, score.RiskCategory, score.Profile,
		string(components), string(breakdown), string(metrics), string(recs),
		nullFloat(score.PreviousScore), nullFloat(score.ScoreChange), nullString(score.Trend),
		score.CalculatedAt, score.CalculationVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}

	s.logger.Debug("Score saved", "target", score.Target, "vrs_score", score.VRSScore)
	return nil
}

// Latest returns the most recent score for target
func (s *PostgresStore) Latest(ctx context.Context, target string) (*model.ResilienceScore, error) {
	query := `SELECT ` + selectColumns + `
		FROM resilience_scores
		WHERE target = $1
		ORDER BY calculated_at DESC, id DESC
		LIMIT 1
	`
	score, err := scanScore(s.db.QueryRowContext(ctx, query, target))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoHistory
		}
		return nil, fmt.Errorf("failed to query latest score: %w", err)
	}
	return score, nil
}

// List returns up to limit scores for target, newest first
func (s *PostgresStore) List(ctx context.Context, target string, limit int) ([]model.ResilienceScore, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + selectColumns + `
		FROM resilience_scores
		WHERE target = $1
		ORDER BY calculated_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []model.ResilienceScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, *score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return scores, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*model.ResilienceScore, error) {
	var (
		score                                model.ResilienceScore
		components, breakdown, metrics, recs string
		previous, change                     sql.NullFloat64
		trend                                sql.NullString
	)
	err := row.Scan(
		&score.Target, &score.VRSScore, &score.Grade, &score.RiskCategory, &score.Profile,
		&components, &breakdown, &metrics, &recs,
		&previous, &change, &trend, &score.CalculatedAt, &score.CalculationVersion,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(components), &score.Components); err != nil {
		return nil, fmt.Errorf("failed to decode components: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdown), &score.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &score.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &score.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to decode recommendations: %w", err)
	}
	if previous.Valid {
		score.PreviousScore = &previous.Float64
	}
	if change.Valid {
		score.ScoreChange = &change.Float64
	}
	score.Trend = trend.String
	score.CalculatedAt = score.CalculatedAt.UTC()
	return &score, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
