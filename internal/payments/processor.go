// Package payments provides the in-process payment processor used when no
// external processor is configured. It mints card payment intents in the
// shape the web client's checkout form expects.
package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"nexurabuild/pkg/domain"
)

// MethodCard is the only payment method the processor offers.
const MethodCard = "card"

// Intent is a created payment intent with its request metadata.
type Intent struct {
	domain.PaymentIntent
	Methods  []string
	Metadata map[string]string
}

// DevProcessor keeps intents in memory. It never contacts a network.
type DevProcessor struct {
	mu      sync.Mutex
	intents map[string]Intent
	order   []string
}

// NewDevProcessor returns an empty processor.
func NewDevProcessor() *DevProcessor {
	return &DevProcessor{intents: make(map[string]Intent)}
}

// CreateIntent registers a card intent for amount in the smallest currency unit.
func (p *DevProcessor) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}
	if amount <= 0 {
		return domain.PaymentIntent{}, errors.New("amount must be positive")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return domain.PaymentIntent{}, fmt.Errorf("invalid currency %q", currency)
	}
	id := "pi_" + token(12)
	intent := Intent{
		PaymentIntent: domain.PaymentIntent{
			ID:           id,
			ClientSecret: id + "_secret_" + token(12),
			Amount:       amount,
			Currency:     currency,
		},
		Methods:  []string{MethodCard},
		Metadata: maps.Clone(metadata),
	}
	p.mu.Lock()
	p.intents[id] = intent
	p.order = append(p.order, id)
	p.mu.Unlock()
	return intent.PaymentIntent, nil
}

// Lookup returns a previously created intent.
func (p *DevProcessor) Lookup(id string) (Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[id]
	return in, ok
}

// Intents returns every created intent in creation order.
func (p *DevProcessor) Intents() []Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Intent, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.intents[id])
	}
	return out
}

func token(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
