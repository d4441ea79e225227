package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   FallbackCode
	}{
		{name: "404", status: 404, want: FallbackAgentNotFound},
		{name: "402", status: 402, want: FallbackPaymentUnavailable},
		{name: "500", status: 500, want: FallbackOracleUnavailable},
		{name: "503", status: 503, want: FallbackOracleUnavailable},
		{name: "418 unclassified", status: 418, want: FallbackOracleUnavailable},
		{name: "context deadline", err: context.DeadlineExceeded, want: FallbackAPITimeout},
		{name: "wrapped deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: FallbackAPITimeout},
		{name: "net timeout", err: timeoutErr{}, want: FallbackAPITimeout},
		{name: "other transport error", err: errors.New("tls handshake failure"), want: FallbackOracleUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyHTTP(tt.status, tt.err)
			assert.Equal(t, tt.want, got.code)
			assert.NotEmpty(t, got.message)
		})
	}
}

func TestClassifyContract(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FallbackCode
	}{
		{name: "revert", err: errors.New("execution reverted"), want: FallbackAgentNotFound},
		{name: "wrapped revert", err: fmt.Errorf("chain: getDetailedReport(7): %w", errors.New("execution reverted: no record")), want: FallbackAgentNotFound},
		{name: "call exception", err: errors.New("CALL_EXCEPTION"), want: FallbackAgentNotFound},
		{name: "deadline", err: context.DeadlineExceeded, want: FallbackRPCUnavailable},
		{name: "dial refused", err: errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), want: FallbackRPCUnavailable},
		{name: "socket closed", err: errors.New("use of closed socket"), want: FallbackRPCUnavailable},
		{name: "rpc error", err: errors.New("rpc: method handler crashed"), want: FallbackRPCUnavailable},
		{name: "unclassified", err: errors.New("abi: cannot unpack"), want: FallbackOracleUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyContract(tt.err).code)
		})
	}
}
