package oracle

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// classified is a failed attempt reduced to its taxonomy code and a short
// human-readable cause. Raw errors never cross the client boundary.
type classified struct {
	code    FallbackCode
	message string
}

// classifyHTTP maps a failed HTTP attempt. err is the transport error, if
// any; status is the response code when a response arrived.
func classifyHTTP(status int, err error) classified {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
			return classified{code: FallbackAPITimeout, message: "request timed out"}
		}
		return classified{code: FallbackOracleUnavailable, message: err.Error()}
	}
	switch {
	case status == http.StatusNotFound:
		return classified{code: FallbackAgentNotFound, message: "agent not found"}
	case status == http.StatusPaymentRequired:
		return classified{code: FallbackPaymentUnavailable, message: "payment required"}
	case status >= 500:
		return classified{code: FallbackOracleUnavailable, message: http.StatusText(status)}
	default:
		return classified{code: FallbackOracleUnavailable, message: http.StatusText(status)}
	}
}

var rpcSubstrings = []string{
	"timeout",
	"timed out",
	"network",
	"socket",
	"connect",
	"rpc",
	"dial",
}

// classifyContract maps a failed contract read. A recognized revert means
// the agent has no record; network-ish failures mean the RPC endpoint is
// unreachable.
func classifyContract(err error) classified {
	if err == nil {
		return classified{code: FallbackOracleUnavailable, message: "unknown contract failure"}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "call_exception") {
		return classified{code: FallbackAgentNotFound, message: "agent not found on-chain"}
	}
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return classified{code: FallbackRPCUnavailable, message: "rpc timed out"}
	}
	for _, sub := range rpcSubstrings {
		if strings.Contains(msg, sub) {
			return classified{code: FallbackRPCUnavailable, message: err.Error()}
		}
	}
	return classified{code: FallbackOracleUnavailable, message: err.Error()}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
