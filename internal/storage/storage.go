package storage

import (
	"context"
	"time"

	"github.com/plantops/webhookd/internal/models"
)

type Storage interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	GetOrganizationByAPIKey(ctx context.Context, apiKey string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
	UpdateOrganizationAPIKey(ctx context.Context, id, newKey string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, orgID string) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionSecret(ctx context.Context, id, secret string) error
	DeleteSubscription(ctx context.Context, id string) error

	// Delivery bookkeeping. Both run as a single UPDATE statement so that
	// concurrent deliveries to the same subscription cannot lose counts.
	RecordDeliverySuccess(ctx context.Context, id string, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, id string, threshold int) (failureCount int, status models.SubscriptionStatus, err error)

	// Delivery logs (append-only)
	CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	GetDeliveryLog(ctx context.Context, id string) (*models.DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, webhookID string, limit, offset int) ([]models.DeliveryLog, error)

	// Audit trail
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	ListAuditEntries(ctx context.Context, orgID string, limit, offset int) ([]models.AuditEntry, error)

	// Stats
	GetStats(ctx context.Context, orgID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalSubscriptions  int64   `json:"total_subscriptions"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	FailedSubscriptions int64   `json:"failed_subscriptions"`
	TotalDeliveries     int64   `json:"total_deliveries"`
	DeliveredCount      int64   `json:"delivered_count"`
	FailedCount         int64   `json:"failed_count"`
	SuccessRate         float64 `json:"success_rate"`
}
