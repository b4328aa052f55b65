package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/clearinghouse/pkg/driftguard"
)

type validationResult struct {
	Input   string `json:"input"`
	Passed  bool   `json:"passed"`
	Version string `json:"version,omitempty"`
	Records int    `json:"records,omitempty"`
	Source  string `json:"source,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Pointer string `json:"pointer,omitempty"`
	Error   string `json:"error,omitempty"`
}

// runValidateCmd checks each argument for schema drift. An argument is read
// as a file path first and as raw JSON text when it cannot be read.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		constraint string
		jsonOutput bool
		verbose    bool
	)
	cmd.StringVar(&constraint, "constraint", os.Getenv("DRIFT_VERSION_CONSTRAINT"), "Semantic version constraint for the envelope version")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.BoolVar(&verbose, "v", false, "Log validation events to stderr")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: clearinghouse validate [--constraint C] [--json] <json_file_or_string>...")
		return 2
	}

	logger := slog.New(slog.DiscardHandler)
	if verbose {
		logger = slog.New(slog.NewTextHandler(stderr, nil))
	}
	guard, err := driftguard.New(
		driftguard.WithVersionConstraint(constraint),
		driftguard.WithLogger(logger),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	results := make([]validationResult, 0, cmd.NArg())
	for _, input := range cmd.Args() {
		results = append(results, validateInput(guard, input))
	}

	allPassed := true
	for _, r := range results {
		allPassed = allPassed && r.Passed
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else {
		printValidation(stdout, results)
	}

	if !allPassed {
		return 1
	}
	return 0
}

func validateInput(guard *driftguard.Guard, input string) validationResult {
	res := validationResult{Input: inputLabel(input)}

	env, err := guard.ValidateFile(input)
	if err != nil && !driftguard.IsDrift(err) {
		env, err = guard.Validate(input)
	}
	if err != nil {
		res.Error = err.Error()
		var de *driftguard.SchemaDriftError
		if errors.As(err, &de) {
			res.Pointer = de.Pointer
		}
		return res
	}

	res.Passed = true
	res.Version = env.Version
	res.Records = len(env.Records)
	res.Digest = env.Digest
	if env.Source != nil {
		res.Source = *env.Source
	}
	return res
}

// inputLabel shortens inline JSON for display.
func inputLabel(input string) string {
	if _, err := os.Stat(input); err == nil {
		return input
	}
	label := strings.Join(strings.Fields(input), " ")
	if len(label) > 48 {
		label = label[:45] + "..."
	}
	return label
}

func printValidation(w io.Writer, results []validationResult) {
	for _, r := range results {
		fmt.Fprintf(w, "\nTesting: %s\n", r.Input)
		if !r.Passed {
			fmt.Fprintf(w, "%s✗ Validation failed:%s %s\n", ColorRed, ColorReset, r.Error)
			continue
		}
		fmt.Fprintf(w, "%s✓ Validation passed%s\n", ColorGreen, ColorReset)
		fmt.Fprintf(w, "  Version: %s\n", r.Version)
		fmt.Fprintf(w, "  Records: %d\n", r.Records)
		if r.Source != "" {
			fmt.Fprintf(w, "  Source: %s\n", r.Source)
		}
		fmt.Fprintf(w, "  Digest: %s\n", r.Digest)
	}

	if len(results) < 2 {
		return
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	passed := 0
	for _, r := range results {
		status := ColorRed + "✗ FAIL" + ColorReset
		if r.Passed {
			status = ColorGreen + "✓ PASS" + ColorReset
			passed++
		}
		fmt.Fprintf(w, "  %s: %s\n", r.Input, status)
	}
	fmt.Fprintf(w, "  %d/%d passed\n", passed, len(results))
}
