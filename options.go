package oracle

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/robomoustach/oracle/internal/chain"
)

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL overrides the oracle API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) error {
		c.baseURL = strings.TrimRight(url, "/")
		return nil
	}
}

// WithMode sets the preferred source chain. Default: ModePaid.
func WithMode(mode Mode) Option {
	return func(c *Client) error {
		switch mode {
		case ModePaid, ModeDemo, ModeContract:
			c.mode = mode
			return nil
		default:
			return fmt.Errorf("oracle: unknown mode %q", mode)
		}
	}
}

// WithDemoFallback toggles falling back from the paid API to the demo
// endpoint. Default: enabled.
func WithDemoFallback(allow bool) Option {
	return func(c *Client) error {
		c.allowDemoFallback = allow
		return nil
	}
}

// WithOnchainFallback toggles falling back to a direct contract read.
// Default: enabled.
func WithOnchainFallback(allow bool) Option {
	return func(c *Client) error {
		c.allowOnchainFallback = allow
		return nil
	}
}

// WithTimeout bounds each HTTP source attempt. Default: 8s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("oracle: timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithHTTPClient substitutes the HTTP client used for API attempts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTrustScoreContract wires the on-chain fallback: a read-only binding of
// the TrustScore contract at address via rpcURL.
func WithTrustScoreContract(rpcURL, address string) Option {
	return func(c *Client) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("oracle: invalid trustscore address %q", address)
		}
		backend, err := ethclient.Dial(rpcURL)
		if err != nil {
			return fmt.Errorf("oracle: dial %s: %w", rpcURL, err)
		}
		ts, err := chain.NewTrustScore(backend, common.HexToAddress(address), nil, nil)
		if err != nil {
			return err
		}
		c.contract = ts
		return nil
	}
}

// WithContractReader substitutes the contract reader directly. Useful for
// sharing one binding between the client and an embedding server.
func WithContractReader(r ContractReader) Option {
	return func(c *Client) error {
		c.contract = r
		return nil
	}
}

// WithPaymentSecret sets the x402 payment credential for paid requests.
// Without it, paid attempts classify as payment_unavailable.
func WithPaymentSecret(secret []byte) Option {
	return func(c *Client) error {
		c.paymentSecret = secret
		return nil
	}
}

// WithMaxPaymentAtomic caps the per-request settlement amount. Default: 20000.
func WithMaxPaymentAtomic(amount int64) Option {
	return func(c *Client) error {
		if amount <= 0 {
			return fmt.Errorf("oracle: max payment must be positive")
		}
		c.maxPaymentAtomic = amount
		return nil
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithConfidenceThreshold sets the feedback count at which derived
// confidence saturates. Default: 50.
func WithConfidenceThreshold(count int) Option {
	return func(c *Client) error {
		if count <= 0 {
			return fmt.Errorf("oracle: confidence threshold must be positive")
		}
		c.shaper.confidenceThreshold = count
		return nil
	}
}

// WithNegativeFlagThresholdBps sets the negative rate above which a report
// is flagged. Default: 2000.
func WithNegativeFlagThresholdBps(bps int) Option {
	return func(c *Client) error {
		c.shaper.negativeFlagBps = bps
		return nil
	}
}

// WithNoHistoryMaskDisabled turns off the rule that reads a zero score with
// zero history (or zero confidence) as UNKNOWN. With the mask off, such a
// record reads DANGEROUS like any other zero score.
func WithNoHistoryMaskDisabled() Option {
	return func(c *Client) error {
		c.shaper.disableNoHistoryMask = true
		return nil
	}
}
