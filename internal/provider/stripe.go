package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/util"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// ErrUnavailable is returned without calling Stripe while the circuit is open
var ErrUnavailable = errors.New("payment provider unavailable")

// Payment intent statuses the reconciler acts on
const (
	IntentSucceeded = string(stripe.PaymentIntentStatusSucceeded)
	IntentCanceled  = string(stripe.PaymentIntentStatusCanceled)
)

// CheckoutSession is the part of a provider checkout session the reconciler reads
type CheckoutSession struct {
	ID              string
	PaymentIntentID string
}

// PaymentIntent is the part of a provider payment intent the reconciler reads
type PaymentIntent struct {
	ID     string
	Status string
}

// sessionGetter and intentGetter are the slices of the stripe client API used here
type sessionGetter interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type intentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider retrieves checkout sessions and payment intents from Stripe.
// Calls share one circuit breaker so an outage turns into fast skips.
type StripeProvider struct {
	sessions sessionGetter
	intents  intentGetter
	breaker  *gobreaker.CircuitBreaker[any]
}

// NewStripeProvider creates a provider backed by the Stripe API
func NewStripeProvider(secretKey string) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)

	return newStripeProvider(sc.CheckoutSessions, sc.PaymentIntents)
}

func newStripeProvider(sessions sessionGetter, intents intentGetter) *StripeProvider {
	logger := util.Component("provider")

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "stripe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a 4xx answer means Stripe is up
			var se *stripe.Error
			return err == nil || (errors.As(err, &se) && se.HTTPStatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &StripeProvider{
		sessions: sessions,
		intents:  intents,
		breaker:  breaker,
	}
}

func (p *StripeProvider) execute(fn func() (any, error)) (any, error) {
	res, err := p.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, err
}

// RetrieveCheckoutSession retrieves a checkout session by ID
func (p *StripeProvider) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "StripeProvider.RetrieveCheckoutSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ProviderLatency.WithLabelValues("checkout_session").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	res, err := p.execute(func() (any, error) {
		return p.sessions.Get(sessionID, params)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}
	s := res.(*stripe.CheckoutSession)

	session := &CheckoutSession{ID: s.ID}
	if s.PaymentIntent != nil {
		session.PaymentIntentID = s.PaymentIntent.ID
	}
	return session, nil
}

// RetrievePaymentIntent retrieves a payment intent by ID
func (p *StripeProvider) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "StripeProvider.RetrievePaymentIntent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ProviderLatency.WithLabelValues("payment_intent").Observe(time.Since(start).Seconds())
	}()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	res, err := p.execute(func() (any, error) {
		return p.intents.Get(intentID, params)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", intentID, err)
	}
	pi := res.(*stripe.PaymentIntent)

	return &PaymentIntent{ID: pi.ID, Status: string(pi.Status)}, nil
}
