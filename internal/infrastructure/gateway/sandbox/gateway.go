// Package sandbox simulates the push-payment gateway for local runs and
// tests. Every push settles after a fixed number of pending polls, succeeding
// with the configured probability. A settled push is forgotten once its
// outcome has been reported.
package sandbox

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	apppay "github.com/Simply-Furaha/App/internal/application/payment"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"

	"github.com/google/uuid"
)

var ErrUnknownRequest = errors.New("sandbox: unknown checkout request")

var declineReasons = []string{
	"Request cancelled by user",
	"DS timeout user cannot be reached",
	"The balance is insufficient for the transaction.",
}

type Options struct {
	// SuccessRate in [0,1]; 0 declines every push and 1 accepts every push.
	SuccessRate float64
	// PendingPolls is how many queries answer pending before the outcome.
	PendingPolls int
	Seed         int64
}

type push struct {
	remaining int
	outcome   dompay.Outcome
}

type Gateway struct {
	mu           sync.Mutex
	random       *rand.Rand
	successRate  float64
	pendingPolls int
	pushes       map[string]*push
}

var _ apppay.Gateway = (*Gateway)(nil)

func New(opts Options) *Gateway {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rate := opts.SuccessRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	polls := opts.PendingPolls
	if polls < 0 {
		polls = 0
	}
	return &Gateway{
		random:       rand.New(rand.NewSource(seed)),
		successRate:  rate,
		pendingPolls: polls,
		pushes:       make(map[string]*push),
	}
}

func (g *Gateway) Initiate(ctx context.Context, req apppay.InitiateRequest) (*apppay.InitiateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errors.New("sandbox: amount must be greater than zero")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.NewString()
	p := &push{remaining: g.pendingPolls}
	if g.random.Float64() < g.successRate {
		p.outcome = dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: receipt(id)}
	} else {
		p.outcome = dompay.Outcome{Status: dompay.GatewayFailed, FailureReason: declineReasons[g.random.Intn(len(declineReasons))]}
	}
	cid := "ws_CO_" + strings.ReplaceAll(id, "-", "")
	g.pushes[cid] = p

	return &apppay.InitiateResponse{
		CorrelationID:     cid,
		MerchantRequestID: "sandbox-" + id[:8],
		Instructions:      []string{"Sandbox mode: no prompt is sent", "The payment settles automatically"},
	}, nil
}

func (g *Gateway) QueryStatus(ctx context.Context, correlationID string) (dompay.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return dompay.Outcome{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pushes[correlationID]
	if !ok {
		return dompay.Outcome{}, ErrUnknownRequest
	}
	if p.remaining > 0 {
		p.remaining--
		return dompay.Outcome{Status: dompay.GatewayPending}, nil
	}
	delete(g.pushes, correlationID)
	return p.outcome, nil
}

// Outstanding reports how many pushes have not reported their outcome yet.
func (g *Gateway) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

func (g *Gateway) SuccessRate() float64 { return g.successRate }

func receipt(id string) string {
	return "SBX" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:7])
}
