package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/store"
)

// SubscriptionInput is the save_subscription.php body.
type SubscriptionInput struct {
	Endpoint  string                  `json:"endpoint" validate:"required,url,startswith=https://"`
	Keys      domain.SubscriptionKeys `json:"keys"`
	UserAgent string                  `json:"user_agent" validate:"max=500"`
}

// SubscriptionID derives a stable id from the endpoint so saving the same
// browser twice overwrites one record.
func SubscriptionID(endpoint string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(endpoint)))
	return hex.EncodeToString(sum[:12])
}

func (a *App) ListSubscriptions(ctx context.Context, user domain.Profile) ([]domain.PushSubscription, error) {
	list, err := store.ListAs[domain.PushSubscription](ctx, a.db, domain.PushSubscriptionsPath(user.ID))
	if err != nil {
		return nil, domain.Upstream("list subscriptions", err)
	}
	return list, nil
}

func (a *App) SaveSubscription(ctx context.Context, user domain.Profile, in SubscriptionInput) (domain.PushSubscription, error) {
	in.Endpoint = strings.TrimSpace(in.Endpoint)
	if err := a.check(in); err != nil {
		return domain.PushSubscription{}, err
	}
	if strings.TrimSpace(in.Keys.P256dh) == "" || strings.TrimSpace(in.Keys.Auth) == "" {
		return domain.PushSubscription{}, domain.Validation("keys.p256dh and keys.auth are required")
	}
	sub := domain.PushSubscription{
		ID:        SubscriptionID(in.Endpoint),
		UserID:    user.ID,
		Endpoint:  in.Endpoint,
		Keys:      in.Keys,
		UserAgent: strings.TrimSpace(in.UserAgent),
		CreatedAt: a.now().UTC(),
	}
	if err := a.db.Set(ctx, store.Join(domain.PushSubscriptionsPath(user.ID), sub.ID), sub); err != nil {
		return domain.PushSubscription{}, domain.Upstream("save subscription", err)
	}
	return sub, nil
}

// RemoveSubscription deletes by endpoint or id. Removing an unknown
// subscription succeeds.
func (a *App) RemoveSubscription(ctx context.Context, user domain.Profile, endpoint, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		if strings.TrimSpace(endpoint) == "" {
			return domain.Validation("endpoint or id is required")
		}
		id = SubscriptionID(endpoint)
	}
	if err := a.db.Delete(ctx, store.Join(domain.PushSubscriptionsPath(user.ID), id)); err != nil {
		return domain.Upstream("remove subscription", err)
	}
	return nil
}
