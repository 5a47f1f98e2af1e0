// Command aegixctl is a thin CLI front-end over OrchestratorAPI, grounded on
// the corpus's flag-per-subcommand cmd/*/main.go tools.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Exit codes per spec.md §6.
const (
	exitOK              = 0
	exitInvalidArgs     = 64
	exitBackendDown     = 69
	exitTransient       = 75
	exitOther           = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitInvalidArgs
	}

	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	addr := fs.String("addr", envOr("AEGIXCTL_ADDR", "http://localhost:8080"), "gateway base URL")
	owner := fs.String("owner", "", "owner address")
	route := routeFor(cmd)
	if route == "" {
		usage()
		return exitInvalidArgs
	}

	body := map[string]any{}
	switch cmd {
	case "pool-get", "pool-history", "recovery-status", "recovery-validate":
		fs.Parse(args[1:])
		if *owner == "" {
			fmt.Fprintln(os.Stderr, "aegixctl: -owner is required")
			return exitInvalidArgs
		}
		body["owner"] = *owner
	case "pool-fund":
		amount := fs.Int64("amount", 0, "token amount to fund")
		fs.Parse(args[1:])
		if *owner == "" || *amount <= 0 {
			fmt.Fprintln(os.Stderr, "aegixctl: -owner and -amount are required")
			return exitInvalidArgs
		}
		body["owner"], body["amount"] = *owner, *amount
	case "pool-pay":
		recipient := fs.String("to", "", "recipient address")
		amount := fs.Int64("amount", 0, "token amount to pay")
		compressed := fs.Bool("compressed", false, "route via Maximum-Privacy")
		fs.Parse(args[1:])
		if *owner == "" || *recipient == "" || *amount <= 0 {
			fmt.Fprintln(os.Stderr, "aegixctl: -owner, -to, and -amount are required")
			return exitInvalidArgs
		}
		body["owner"], body["recipient"], body["amount"], body["use_compressed"] = *owner, *recipient, *amount, *compressed
	default:
		usage()
		return exitInvalidArgs
	}

	resp, err := post(*addr+route, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aegixctl:", err)
		return exitBackendDown
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		fmt.Println(string(out))
		return exitOK
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, string(out))
		return exitTransient
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway:
		fmt.Fprintln(os.Stderr, string(out))
		return exitBackendDown
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		fmt.Fprintln(os.Stderr, string(out))
		return exitInvalidArgs
	default:
		fmt.Fprintln(os.Stderr, string(out))
		return exitOther
	}
}

func routeFor(cmd string) string {
	switch cmd {
	case "pool-get":
		return "/v1/pool.get"
	case "pool-fund":
		return "/v1/pool.fund"
	case "pool-pay":
		return "/v1/pool.pay"
	case "pool-history":
		return "/v1/pool.history"
	case "recovery-status":
		return "/v1/recovery.status"
	case "recovery-validate":
		return "/v1/recovery.validate"
	default:
		return ""
	}
}

func post(url string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return client.Post(url, "application/json", bytes.NewReader(payload))
}

func usage() {
	fmt.Fprintln(os.Stderr, `aegixctl - privacy gateway CLI

Usage:
  aegixctl <command> [flags]

Commands:
  pool-get           -owner ADDR
  pool-fund          -owner ADDR -amount N
  pool-pay           -owner ADDR -to ADDR -amount N [-compressed]
  pool-history       -owner ADDR
  recovery-status    -owner ADDR
  recovery-validate  -owner ADDR

Flags:
  -addr URL   gateway base URL (default http://localhost:8080, or $AEGIXCTL_ADDR)`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
