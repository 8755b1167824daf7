package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/plantops/webhookd/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			secret TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			payload TEXT NOT NULL,
			response_status INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			retry_of TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			old_value TEXT NOT NULL DEFAULT '',
			new_value TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_organizations_api_key ON organizations(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_org ON subscriptions(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_org_status ON subscriptions(org_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_logs_webhook ON delivery_logs(webhook_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_org ON audit_log(org_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Organizations ---

func (s *SQLiteStorage) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.APIKey, org.CreatedAt, org.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *SQLiteStorage) GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations WHERE api_key = ?`, apiKey,
	).Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *SQLiteStorage) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM organizations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *SQLiteStorage) DeleteOrganization(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) UpdateOrganizationAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Subscriptions ---

const subscriptionColumns = `id, org_id, url, events, secret, status, failure_count, last_triggered_at, created_at, updated_at`

func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, _ := json.Marshal(sub.Events)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OrgID, sub.URL, string(events), sub.Secret, sub.Status,
		sub.FailureCount, sub.LastTriggeredAt, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var events string
	err := row.Scan(&sub.ID, &sub.OrgID, &sub.URL, &events, &sub.Secret, &sub.Status,
		&sub.FailureCount, &sub.LastTriggeredAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &sub.Events)
	return &sub, nil
}

func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) listSubscriptions(ctx context.Context, query string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) ListSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? ORDER BY created_at DESC`, orgID)
}

func (s *SQLiteStorage) ListActiveSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? AND status = 'active' ORDER BY created_at DESC`, orgID)
}

func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, _ := json.Marshal(sub.Events)
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET url = ?, events = ?, status = ?, failure_count = ?, updated_at = ? WHERE id = ?`,
		sub.URL, string(events), sub.Status, sub.FailureCount, time.Now().UTC(), sub.ID,
	)
	return err
}

func (s *SQLiteStorage) UpdateSubscriptionSecret(ctx context.Context, id, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) RecordDeliverySuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET failure_count = 0, status = 'active', last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id,
	)
	return err
}

// RecordDeliveryFailure increments failure_count and flips the subscription to
// failed once the updated count reaches threshold. The increment and the
// status decision happen in one statement; two deliveries completing
// concurrently cannot lose a count the way a read-then-write would.
func (s *SQLiteStorage) RecordDeliveryFailure(ctx context.Context, id string, threshold int) (int, models.SubscriptionStatus, error) {
	var count int
	var status models.SubscriptionStatus
	err := s.db.QueryRowContext(ctx,
		`UPDATE subscriptions
		 SET failure_count = failure_count + 1,
		     status = CASE WHEN failure_count + 1 >= ? THEN 'failed' ELSE status END,
		     updated_at = ?
		 WHERE id = ?
		 RETURNING failure_count, status`,
		threshold, time.Now().UTC(), id,
	).Scan(&count, &status)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	return count, status, err
}

// --- Delivery logs ---

func (s *SQLiteStorage) CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_logs (id, webhook_id, event, payload, response_status, response_body, duration_ms, retry_of, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WebhookID, entry.Event, string(entry.Payload),
		entry.ResponseStatus, entry.ResponseBody, entry.DurationMs, entry.RetryOf, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetDeliveryLog(ctx context.Context, id string) (*models.DeliveryLog, error) {
	var entry models.DeliveryLog
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, webhook_id, event, payload, response_status, response_body, duration_ms, retry_of, created_at
		 FROM delivery_logs WHERE id = ?`, id,
	).Scan(&entry.ID, &entry.WebhookID, &entry.Event, &payload,
		&entry.ResponseStatus, &entry.ResponseBody, &entry.DurationMs, &entry.RetryOf, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	entry.Payload = json.RawMessage(payload)
	return &entry, err
}

func (s *SQLiteStorage) ListDeliveryLogs(ctx context.Context, webhookID string, limit, offset int) ([]models.DeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_id, event, payload, response_status, response_body, duration_ms, retry_of, created_at
		 FROM delivery_logs WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DeliveryLog
	for rows.Next() {
		var entry models.DeliveryLog
		var payload string
		if err := rows.Scan(&entry.ID, &entry.WebhookID, &entry.Event, &payload,
			&entry.ResponseStatus, &entry.ResponseBody, &entry.DurationMs, &entry.RetryOf, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- Audit trail ---

func (s *SQLiteStorage) CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, org_id, user_id, action, entity_type, entity_id, old_value, new_value, source_ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrgID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID,
		entry.OldValue, entry.NewValue, entry.SourceIP, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListAuditEntries(ctx context.Context, orgID string, limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, user_id, action, entity_type, entity_id, old_value, new_value, source_ip, created_at
		 FROM audit_log WHERE org_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.UserID, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.OldValue, &entry.NewValue, &entry.SourceIP, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, orgID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = ?`, orgID).Scan(&stats.TotalSubscriptions)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = ? AND status = 'active'`, orgID).Scan(&stats.ActiveSubscriptions)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE org_id = ? AND status = 'failed'`, orgID).Scan(&stats.FailedSubscriptions)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs l JOIN subscriptions s ON l.webhook_id = s.id WHERE s.org_id = ?`, orgID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs l JOIN subscriptions s ON l.webhook_id = s.id
		 WHERE s.org_id = ? AND l.response_status >= 200 AND l.response_status < 300`, orgID).Scan(&stats.DeliveredCount)
	stats.FailedCount = stats.TotalDeliveries - stats.DeliveredCount

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.DeliveredCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}
