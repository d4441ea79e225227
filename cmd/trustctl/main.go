// Command trustctl queries the trust oracle from the terminal.
//
// Usage:
//
//	trustctl [flags] score <agentId>
//	trustctl [flags] report <agentId>
//
// The envelope is printed as indented JSON; the exit code follows the
// recommendation (0 proceed, 2 manual_review, 3 abort).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/robomoustach/oracle"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL    = flag.String("base-url", "", "oracle API base URL (default from client)")
		mode       = flag.String("mode", "api_paid", "preferred source: api_paid, api_demo, or trustscore_contract")
		timeout    = flag.Duration("timeout", 8*time.Second, "per-source HTTP timeout")
		noDemo     = flag.Bool("no-demo-fallback", false, "disable falling back to the demo endpoint")
		noOnchain  = flag.Bool("no-onchain-fallback", false, "disable falling back to the on-chain record")
		rpcURL     = flag.String("rpc-url", "", "JSON-RPC endpoint for the on-chain fallback")
		contract   = flag.String("contract", "", "TrustScore contract address")
		maxPayment = flag.Int64("max-payment", 0, "per-request payment cap in atomic units")
	)
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: trustctl [flags] score|report <agentId>")
		flag.PrintDefaults()
		return 1
	}
	kind, agentID := flag.Arg(0), flag.Arg(1)
	if kind != "score" && kind != "report" {
		fmt.Fprintf(os.Stderr, "unknown command %q (want score or report)\n", kind)
		return 1
	}

	_ = godotenv.Load()

	opts := []oracle.Option{
		oracle.WithMode(oracle.Mode(*mode)),
		oracle.WithTimeout(*timeout),
		oracle.WithDemoFallback(!*noDemo),
		oracle.WithOnchainFallback(!*noOnchain),
	}
	if *baseURL != "" {
		opts = append(opts, oracle.WithBaseURL(*baseURL))
	}
	if *rpcURL != "" && *contract != "" {
		opts = append(opts, oracle.WithTrustScoreContract(*rpcURL, *contract))
	}
	if secret := os.Getenv("ORACLE_X402_SECRET"); secret != "" {
		opts = append(opts, oracle.WithPaymentSecret([]byte(secret)))
	}
	if *maxPayment > 0 {
		opts = append(opts, oracle.WithMaxPaymentAtomic(*maxPayment))
	}

	client, err := oracle.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustctl: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var env oracle.Envelope
	if kind == "score" {
		env = client.Score(ctx, agentID)
	} else {
		env = client.Report(ctx, agentID)
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustctl: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	switch env.Recommendation {
	case oracle.RecommendProceed:
		return 0
	case oracle.RecommendAbort:
		return 3
	default:
		return 2
	}
}
