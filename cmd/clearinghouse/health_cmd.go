package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		baseURL string
		ready   bool
	)
	cmd.StringVar(&baseURL, "url", "", "Service base URL (default derived from HEALTH_ADDR)")
	cmd.BoolVar(&ready, "ready", false, "Check readiness instead of liveness")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if baseURL == "" {
		baseURL = urlFromAddr(os.Getenv("HEALTH_ADDR"))
	}

	path := "/health"
	if ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}

	fmt.Fprintln(stdout, "OK")
	return 0
}

// urlFromAddr turns a listen address such as ":8080" into a local URL.
func urlFromAddr(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
