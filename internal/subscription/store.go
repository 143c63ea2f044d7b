package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a practice has no subscription row.
var ErrNotFound = errors.New("subscription: not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Subscription is one practice's billing record, keyed by the Stripe
// subscription so webhook events can update it without a practice lookup.
type Subscription struct {
	ID                   string    `json:"id"`
	PracticeID           string    `json:"practice_id"`
	Plan                 string    `json:"plan"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	Email                string    `json:"email"`
	CustomerName         string    `json:"customer_name"`
	Status               Status    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Store persists subscription rows in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// ActivateParams carries the fields learned from checkout.session.completed.
type ActivateParams struct {
	PracticeID           string
	Plan                 string
	StripeCustomerID     string
	StripeSubscriptionID string
	Email                string
	CustomerName         string
}

// Activate upserts an active row for a completed checkout. Re-delivered
// events land on the same stripe_subscription_id and just refresh it.
func (s *Store) Activate(ctx context.Context, p ActivateParams) error {
	query := `
		INSERT INTO subscriptions (practice_id, plan, stripe_customer_id, stripe_subscription_id, email, customer_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', NOW(), NOW())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			status = 'active',
			practice_id = EXCLUDED.practice_id,
			plan = EXCLUDED.plan,
			email = EXCLUDED.email,
			customer_name = EXCLUDED.customer_name,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		p.PracticeID, p.Plan, p.StripeCustomerID, p.StripeSubscriptionID, p.Email, p.CustomerName)
	if err != nil {
		return fmt.Errorf("subscription: activate: %w", err)
	}
	return nil
}

// UpdateStatus transitions the row for a Stripe subscription ID. Returns
// false when no row matched, which means we never saw the checkout.
func (s *Store) UpdateStatus(ctx context.Context, stripeSubscriptionID string, status Status) (bool, error) {
	query := `
		UPDATE subscriptions SET status = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`
	ct, err := s.pool.Exec(ctx, query, stripeSubscriptionID, string(status))
	if err != nil {
		return false, fmt.Errorf("subscription: update status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetByPractice returns the practice's most recent subscription row.
func (s *Store) GetByPractice(ctx context.Context, practiceID string) (*Subscription, error) {
	query := `
		SELECT id, practice_id, plan, stripe_customer_id, stripe_subscription_id, email, customer_name, status, created_at, updated_at
		FROM subscriptions
		WHERE practice_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var sub Subscription
	var status string
	err := s.pool.QueryRow(ctx, query, practiceID).Scan(
		&sub.ID, &sub.PracticeID, &sub.Plan, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&sub.Email, &sub.CustomerName, &status, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscription: get by practice: %w", err)
	}
	sub.Status = Status(status)
	return &sub, nil
}
