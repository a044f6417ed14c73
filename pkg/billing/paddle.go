package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// PaddleConfig holds configuration for the Paddle entitlement source.
type PaddleConfig struct {
	APIKey      string `env:"PADDLE_API_KEY,required"`
	Environment string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleSource implements EntitlementSource against Paddle. Each companion
// account maps to a Paddle customer whose custom data carries the account id;
// active price IDs resolve to tiers through the configured mapping table.
type PaddleSource struct {
	client *paddle.SDK
	// priceTiers maps Paddle price IDs to subscription tiers.
	priceTiers map[string]entitlement.Tier
	// trialDays reported for trialing subscriptions.
	trialDays int
}

// NewPaddleSource creates a Paddle-backed entitlement source.
// priceTiers must map every sellable Paddle price ID to a tier; a price
// missing from the map fails the fetch with ErrUnmappedPrice rather than
// silently downgrading the account.
func NewPaddleSource(cfg PaddleConfig, priceTiers map[string]entitlement.Tier, trialDays int) (*PaddleSource, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(priceTiers) == 0 {
		return nil, errors.New("billing: price tier mapping is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	tiers := make(map[string]entitlement.Tier, len(priceTiers))
	for priceID, tier := range priceTiers {
		if !tier.Valid() {
			return nil, fmt.Errorf("billing: price %s maps to invalid tier %q", priceID, tier)
		}
		tiers[priceID] = tier
	}

	return &PaddleSource{client: client, priceTiers: tiers, trialDays: trialDays}, nil
}

// FetchEntitlements resolves the account's current tier from its Paddle
// subscriptions. Accounts with no subscription resolve to tier none; a
// trialing subscription reports trial metadata so local state can
// reconcile its trial window.
func (p *PaddleSource) FetchEntitlements(ctx context.Context, userID uuid.UUID) (*RemoteEntitlements, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{userID.String()},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	out := &RemoteEntitlements{
		Tier:      entitlement.TierNone,
		FetchedAt: time.Now().UTC(),
	}

	var iterErr error
	err = res.Iter(ctx, func(sub *paddle.Subscription) (bool, error) {
		switch strings.ToLower(string(sub.Status)) {
		case "active":
			tier, err := p.tierForItems(sub)
			if err != nil {
				iterErr = err
				return false, nil
			}
			// Keep the broadest entitlement when several subscriptions exist.
			if !out.Tier.AtLeast(tier) {
				out.Tier = tier
			}
		case "trialing":
			out.TrialDurationDays = p.trialDays
			if sub.StartedAt != nil {
				if startedAt, err := time.Parse(time.RFC3339, *sub.StartedAt); err == nil {
					out.TrialStartedAt = startedAt.UTC()
				}
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	if iterErr != nil {
		return nil, iterErr
	}

	return out, nil
}

func (p *PaddleSource) tierForItems(sub *paddle.Subscription) (entitlement.Tier, error) {
	for _, item := range sub.Items {
		if tier, ok := p.priceTiers[item.Price.ID]; ok {
			return tier, nil
		}
	}
	return "", fmt.Errorf("%w: subscription %s", ErrUnmappedPrice, sub.ID)
}
