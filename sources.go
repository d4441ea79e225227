package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/robomoustach/oracle/internal/agentid"
	"github.com/robomoustach/oracle/internal/x402"
)

// queryKind selects the API route and shaping rules.
type queryKind string

const (
	kindScore  queryKind = "score"
	kindReport queryKind = "report"
)

// sequence computes the ordered source chain for the configured mode.
func (c *Client) sequence() []Source {
	switch c.mode {
	case ModeContract:
		return []Source{SourceContract}
	case ModeDemo:
		seq := []Source{SourceDemo}
		if c.allowOnchainFallback {
			seq = append(seq, SourceContract)
		}
		return seq
	default:
		seq := []Source{SourcePaid}
		if c.allowDemoFallback {
			seq = append(seq, SourceDemo)
		}
		if c.allowOnchainFallback {
			seq = append(seq, SourceContract)
		}
		return seq
	}
}

// attempt makes exactly one call to src. It never returns a raw error: a
// failure is always reduced to its taxonomy classification.
func (c *Client) attempt(ctx context.Context, src Source, kind queryKind, id agentid.ID) (sourceData, *classified) {
	switch src {
	case SourcePaid:
		return c.httpAttempt(ctx, kind, id, false)
	case SourceDemo:
		return c.httpAttempt(ctx, kind, id, true)
	default:
		return c.contractAttempt(ctx, id)
	}
}

func (c *Client) httpAttempt(ctx context.Context, kind queryKind, id agentid.ID, demo bool) (sourceData, *classified) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, id.String())
	if demo {
		url += "?demo=true"
	}

	// Single-shot abort timer for the whole attempt; no per-source retries.
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cls := classifyHTTP(0, err)
		return sourceData{}, &cls
	}
	req.Header.Set("Accept", "application/json")

	if !demo {
		proof, err := c.paymentProof()
		if err != nil {
			return sourceData{}, &classified{code: FallbackPaymentUnavailable, message: err.Error()}
		}
		req.Header.Set(x402.HeaderPayment, proof)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cls := classifyHTTP(0, err)
		return sourceData{}, &cls
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		cls := classifyHTTP(resp.StatusCode, nil)
		return sourceData{}, &cls
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return sourceData{}, &classified{code: FallbackOracleUnavailable, message: "malformed oracle response"}
	}
	return parseAPIBody(body), nil
}

// paymentProof lazily builds the proof minter once per client instance.
func (c *Client) paymentProof() (string, error) {
	c.paidInit.Do(func() {
		if len(c.paymentSecret) == 0 {
			c.paidErr = fmt.Errorf("no payment credentials configured")
			return
		}
		minter := x402.NewMinter(c.paymentSecret)
		amount := c.maxPaymentAtomic
		c.paidMint = func() (string, error) {
			return minter.Mint(amount, time.Minute)
		}
	})
	if c.paidErr != nil {
		return "", c.paidErr
	}
	return c.paidMint()
}

func (c *Client) contractAttempt(ctx context.Context, id agentid.ID) (sourceData, *classified) {
	if c.contract == nil {
		return sourceData{}, &classified{code: FallbackRPCUnavailable, message: "no contract reader configured"}
	}
	report, err := c.contract.DetailedReport(ctx, id.BigInt())
	if err != nil {
		cls := classifyContract(err)
		return sourceData{}, &cls
	}
	if !report.Exists {
		return sourceData{}, &classified{code: FallbackAgentNotFound, message: "agent has no score record"}
	}

	score := bigToFloat(report.Score)
	data := sourceData{
		Score:            score,
		TotalFeedback:    bigToInt(report.TotalFeedback),
		PositiveFeedback: bigToInt(report.PositiveFeedback),
		LastUpdated:      bigToInt(report.LastUpdated),
	}
	return data, nil
}

func bigToFloat(v *big.Int) *float64 {
	if v == nil {
		return nil
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return &f
}

func bigToInt(v *big.Int) *int64 {
	if v == nil {
		return nil
	}
	n := v.Int64()
	return &n
}

// parseAPIBody lifts the known response fields and carries the rest through
// as envelope data.
func parseAPIBody(body map[string]any) sourceData {
	d := sourceData{Extra: map[string]any{}}
	for k, v := range body {
		switch k {
		case "score":
			if f, ok := toFloat(v); ok {
				d.Score = &f
			}
		case "confidence":
			if f, ok := toFloat(v); ok {
				d.Confidence = &f
			}
		case "confidenceBand":
			if s, ok := v.(string); ok {
				d.ConfidenceBand = s
			}
		case "totalFeedback":
			if f, ok := toFloat(v); ok {
				n := int64(f)
				d.TotalFeedback = &n
			}
		case "positiveFeedback":
			if f, ok := toFloat(v); ok {
				n := int64(f)
				d.PositiveFeedback = &n
			}
		case "lastUpdated":
			if f, ok := toFloat(v); ok {
				n := int64(f)
				d.LastUpdated = &n
			}
		case "flagged":
			if b, ok := v.(bool); ok {
				d.Flagged = &b
			}
		case "agentId":
			// The envelope already carries the canonical agent ID.
		default:
			d.Extra[k] = v
		}
	}
	if len(d.Extra) == 0 {
		d.Extra = nil
	}
	return d
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
