// Package oracle is the public client for the robomoustach trust oracle.
//
// A Client resolves "how trustworthy is this agent?" across a prioritized
// chain of sources — the paid HTTP API, the free demo endpoint, and a direct
// read of the on-chain TrustScore contract — and always returns a structured
// Envelope. Failures never surface as raw errors: each unsuccessful source
// attempt is classified into the stable fallback taxonomy, and a query that
// succeeds through a non-preferred source is marked degraded.
//
//	client, err := oracle.New(
//	    oracle.WithPaymentSecret(secret),
//	    oracle.WithTrustScoreContract("https://mainnet.base.org", contractAddr),
//	)
//	if err != nil { ... }
//	env := client.Score(ctx, "42")
//	if env.Recommendation == oracle.RecommendProceed { ... }
//
// The import graph enforces a strict no-cycle rule: oracle (root) imports
// internal/*, but internal/* never imports oracle (root). The envelope and
// fallback taxonomy are leaf types in this file's package so the client, the
// classifier, and the shaper can all consume them.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/robomoustach/oracle/internal/agentid"
	"github.com/robomoustach/oracle/internal/chain"
)

// Mode selects the preferred source chain.
type Mode string

const (
	ModePaid     Mode = "api_paid"
	ModeDemo     Mode = "api_demo"
	ModeContract Mode = "trustscore_contract"
)

// DefaultBaseURL is the production oracle API.
const DefaultBaseURL = "https://robomoustach.io"

// DefaultTimeout bounds each HTTP source attempt.
const DefaultTimeout = 8 * time.Second

// DefaultMaxPaymentAtomic caps what the client will settle per paid request.
const DefaultMaxPaymentAtomic = 20000

// ContractReader reads the on-chain TrustScore record. *chain.TrustScore
// implements it; tests substitute fakes.
type ContractReader interface {
	DetailedReport(ctx context.Context, agentID *big.Int) (chain.Report, error)
}

// Client resolves trust queries. It is safe for concurrent use; the paid
// proof minter is built lazily once per instance and never mutated after.
type Client struct {
	baseURL              string
	mode                 Mode
	allowDemoFallback    bool
	allowOnchainFallback bool
	timeout              time.Duration
	httpClient           *http.Client
	contract             ContractReader
	shaper               shaperConfig
	logger               *slog.Logger

	paymentSecret    []byte
	maxPaymentAtomic int64
	paidInit         sync.Once
	paidMint         func() (string, error)
	paidErr          error

	fallbacks otelmetric.Int64Counter
}

// New builds a Client from options. Construction is cheap: no network calls
// are made until the first query.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:              DefaultBaseURL,
		mode:                 ModePaid,
		allowDemoFallback:    true,
		allowOnchainFallback: true,
		timeout:              DefaultTimeout,
		httpClient:           &http.Client{},
		shaper: shaperConfig{
			confidenceThreshold: 50,
			negativeFlagBps:     2000,
		},
		maxPaymentAtomic: DefaultMaxPaymentAtomic,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	meter := otel.GetMeterProvider().Meter("oracle/client")
	c.fallbacks, _ = meter.Int64Counter("trust.fallbacks")
	return c, nil
}

// Score resolves the agent's current trust score.
func (c *Client) Score(ctx context.Context, agentID string) Envelope {
	return c.resolve(ctx, kindScore, agentID)
}

// Report resolves the agent's detailed trust report.
func (c *Client) Report(ctx context.Context, agentID string) Envelope {
	return c.resolve(ctx, kindReport, agentID)
}

// resolve walks the source sequence: validate locally, attempt each source
// once, collapse the walk into one envelope.
func (c *Client) resolve(ctx context.Context, kind queryKind, rawAgentID string) Envelope {
	correlationID := uuid.NewString()
	start := time.Now()
	seq := c.sequence()

	id, err := agentid.Parse(rawAgentID)
	if err != nil {
		return c.failureEnvelope(rawAgentID, seq[0], classified{
			code:    FallbackInvalidAgentID,
			message: validationMessage(err),
		}, StatusError, start, correlationID)
	}

	var last *classified
	lastSrc := seq[0]
	for _, src := range seq {
		lastSrc = src
		data, failure := c.attempt(ctx, src, kind, id)
		if failure != nil {
			last = failure
			c.countFallback(ctx, src, failure.code)
			c.logger.Warn("source attempt failed",
				"source", string(src), "fallback", string(failure.code),
				"agent_id", id.String(), "correlation_id", correlationID)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		env := shape(data, src, kind, id.String(), time.Since(start).Milliseconds(), correlationID, c.shaper)
		if last != nil {
			env.Status = StatusDegraded
			code := last.code
			msg := last.message
			env.Fallback = &code
			env.Error = &msg
		}
		return env
	}

	// Every source failed. Absence of data is authoritative only when the
	// terminal cause is a definite not-found.
	status := StatusDegraded
	if last != nil && last.code == FallbackAgentNotFound {
		status = StatusError
	}
	if last == nil {
		last = &classified{code: FallbackOracleUnavailable, message: "no sources attempted"}
	}
	return c.failureEnvelope(id.String(), lastSrc, *last, status, start, correlationID)
}

func (c *Client) failureEnvelope(agentID string, source Source, cls classified, status Status, start time.Time, correlationID string) Envelope {
	code := cls.code
	msg := cls.message
	return Envelope{
		Status:         status,
		AgentID:        agentID,
		Verdict:        VerdictUnknown,
		Recommendation: RecommendManualReview,
		Source:         source,
		Fallback:       &code,
		Error:          &msg,
		TimingMs:       time.Since(start).Milliseconds(),
		Timestamp:      nowRFC3339(),
		CorrelationID:  correlationID,
	}
}

func (c *Client) countFallback(ctx context.Context, src Source, code FallbackCode) {
	if c.fallbacks == nil {
		return
	}
	c.fallbacks.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", string(src)),
		attribute.String("code", string(code)),
	))
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, agentid.ErrMissing):
		return "agent id is required"
	case errors.Is(err, agentid.ErrNotNumeric):
		return "agent id must be a base-10 unsigned integer"
	case errors.Is(err, agentid.ErrOutOfRange):
		return "agent id exceeds the uint256 range"
	default:
		return err.Error()
	}
}
