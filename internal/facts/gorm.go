package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/scoring"
)

// mlEventTypes are event types raised by the anomaly detection layer
var mlEventTypes = []string{"ml_anomaly", "anomaly_detected"}

// GormStore reads events and scoring facts from the platform postgres database.
// Targets are customer ids.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a postgres connection pool with gorm
func NewGormStore(dsn string, maxOpenConns int) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns / 2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an existing gorm handle
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Ping checks that the database is reachable
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// eventRow is one row of the events table joined with its endpoint
type eventRow struct {
	ID         int64
	Hostname   string
	EventType  string
	Severity   sql.NullString
	Timestamp  time.Time
	CustomerID sql.NullInt64
	Details    sql.NullString
}

func (r eventRow) toEvent() model.SecurityEvent {
	ev := model.SecurityEvent{
		ID:        strconv.FormatInt(r.ID, 10),
		Hostname:  r.Hostname,
		EventType: r.EventType,
		Severity:  r.Severity.String,
		Timestamp: r.Timestamp.UTC(),
	}
	if r.CustomerID.Valid {
		ev.CustomerID = strconv.FormatInt(r.CustomerID.Int64, 10)
	}
	if r.Details.Valid {
		ev.Details = model.DecodeDetails(r.EventType, json.RawMessage(r.Details.String))
	}
	return ev
}

// Events returns events with a timestamp in [from, to]
func (s *GormStore) Events(ctx context.Context, from, to time.Time) ([]model.SecurityEvent, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).Table("events ev").
		Select(`
			ev.id,
			ev.hostname,
			ev.event_type,
			ev.severity,
			ev.timestamp,
			e.customer_id,
			ev.details::text AS details
		`).
		Joins("LEFT JOIN endpoints e ON e.id = ev.endpoint_id").
		Where("ev.timestamp BETWEEN ? AND ?", from, to).
		Order("ev.timestamp ASC, ev.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query events: %w", ErrUnavailable, err)
	}

	events := make([]model.SecurityEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// Targets lists customers that own at least one endpoint
func (s *GormStore) Targets(ctx context.Context) ([]string, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Table("endpoints").
		Distinct("customer_id").
		Where("customer_id IS NOT NULL").
		Order("customer_id").
		Pluck("customer_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list targets: %w", ErrUnavailable, err)
	}

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, strconv.FormatInt(id, 10))
	}
	return targets, nil
}

// Facts gathers the scoring snapshot for one customer
func (s *GormStore) Facts(ctx context.Context, target string, asOf time.Time) (scoring.Facts, error) {
	customerID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: %q is not a customer id", ErrTargetNotFound, target)
	}

	db := s.db.WithContext(ctx)
	f := scoring.Facts{Target: target, AsOf: asOf}

	// Endpoint posture
	var endpoints struct {
		Total     int
		Online    int
		Encrypted int
		Firewall  int
	}
	err = db.Table("endpoints").
		Select(`
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'ONLINE') AS online,
			COUNT(*) FILTER (WHERE status = 'ONLINE'
				AND details::jsonb->'security'->>'disk_encryption_enabled' = 'true') AS encrypted,
			COUNT(*) FILTER (WHERE status = 'ONLINE'
				AND details::jsonb->'security'->>'firewall_enabled' = 'true') AS firewall
		`).
		Where("customer_id = ?", customerID).
		Scan(&endpoints).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query endpoints: %w", ErrUnavailable, err)
	}

	// Users
	var users struct {
		Total int
		MFA   int
	}
	err = db.Table("users").
		Select("COUNT(*) AS total, COUNT(*) FILTER (WHERE mfa_enabled = TRUE) AS mfa").
		Where("customer_id = ?", customerID).
		Scan(&users).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query users: %w", ErrUnavailable, err)
	}

	if endpoints.Total == 0 && users.Total == 0 {
		return scoring.Facts{}, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}

	f.Controls = scoring.ControlCounts{
		MFAEnabledUsers:    users.MFA,
		TotalUsers:         users.Total,
		EncryptedEndpoints: endpoints.Encrypted,
		FirewallEndpoints:  endpoints.Firewall,
		OnlineEndpoints:    endpoints.Online,
	}

	// Telemetry coverage over the last 24h
	var monitored int64
	err = db.Table("endpoints e").
		Joins("JOIN events ev ON ev.endpoint_id = e.id AND ev.timestamp > ? AND ev.timestamp <= ?", asOf.Add(-24*time.Hour), asOf).
		Where("e.customer_id = ? AND e.status = ?", customerID, "ONLINE").
		Distinct("e.id").
		Count(&monitored).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query coverage: %w", ErrUnavailable, err)
	}
	f.Detection = scoring.DetectionCounts{MonitoredEndpoints: int(monitored), OnlineEndpoints: endpoints.Online}

	// Vulnerabilities
	var vulns []struct {
		CVE               string
		Severity          string
		Status            string
		DetectedDate      time.Time
		PatchedDate       *time.Time
		ActivelyExploited bool
	}
	err = db.Table("vulnerabilities").
		Select("cve, severity, status, detected_date, patched_date, actively_exploited").
		Where("customer_id = ? AND detected_date > ? AND detected_date <= ?", customerID, asOf.Add(-scoring.VulnerabilityWindow), asOf).
		Scan(&vulns).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query vulnerabilities: %w", ErrUnavailable, err)
	}
	for _, v := range vulns {
		f.Vulnerabilities = append(f.Vulnerabilities, scoring.VulnerabilityRecord{
			CVE:               v.CVE,
			Severity:          v.Severity,
			Status:            v.Status,
			DetectedAt:        v.DetectedDate,
			PatchedAt:         v.PatchedDate,
			ActivelyExploited: v.ActivelyExploited,
		})
	}

	// Alerts
	var alerts []struct {
		ID             int64
		Severity       string
		CreatedAt      time.Time
		AcknowledgedAt *time.Time
		ResolvedAt     *time.Time
	}
	err = db.Table("alerts").
		Select("id, severity, created_at, acknowledged_at, resolved_at").
		Where("customer_id = ? AND created_at > ? AND created_at <= ?", customerID, asOf.Add(-scoring.AlertWindow), asOf).
		Scan(&alerts).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query alerts: %w", ErrUnavailable, err)
	}
	for _, a := range alerts {
		f.Alerts = append(f.Alerts, scoring.AlertRecord{
			ID:             strconv.FormatInt(a.ID, 10),
			Severity:       a.Severity,
			CreatedAt:      a.CreatedAt,
			AcknowledgedAt: a.AcknowledgedAt,
			ResolvedAt:     a.ResolvedAt,
		})
	}

	// Event counts for the fast profile
	var counts struct {
		Suspicious int
		ML         int
	}
	err = db.Table("events ev").
		Select(`
			COUNT(*) FILTER (WHERE ev.event_type = 'suspicious_behavior') AS suspicious,
			COUNT(*) FILTER (WHERE ev.event_type IN ?) AS ml
		`, mlEventTypes).
		Joins("JOIN endpoints e ON e.id = ev.endpoint_id").
		Where("e.customer_id = ? AND ev.timestamp > ? AND ev.timestamp <= ?", customerID, asOf.Add(-24*time.Hour), asOf).
		Scan(&counts).Error
	if err != nil {
		return scoring.Facts{}, fmt.Errorf("%w: failed to query event counts: %w", ErrUnavailable, err)
	}
	f.SuspiciousEvents24h = counts.Suspicious
	f.MLDetections24h = counts.ML

	return f, nil
}
