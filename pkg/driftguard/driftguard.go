// Package driftguard is a hard gate for agent/LLM output. A payload must match
// the versioned agent output schema exactly (no missing, extra or mistyped
// fields, valid ISO-8601 timestamps) or it is rejected with a SchemaDriftError.
package driftguard

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/clearinghouse/pkg/canonicalize"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	envelopeSchemaURL = "https://clearinghouse.schemas.local/agent-output/envelope.schema.json"
	recordSchemaURL   = "https://clearinghouse.schemas.local/agent-output/record.schema.json"

	timestampFormat = "iso8601-date-time"
)

var registerFormats sync.Once

// Envelope is a validated agent output payload.
type Envelope struct {
	Version string   `json:"version"`
	Records []Record `json:"records"`
	Source  *string  `json:"source,omitempty"`

	// Digest is the sha256 of the canonical (RFC 8785) form of the payload.
	Digest string `json:"-"`
}

// Record is one validated entry of an Envelope.
type Record struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Time is Timestamp parsed.
	Time time.Time `json:"-"`
}

// Guard validates agent output. It is safe for concurrent use.
type Guard struct {
	envelope   *jsonschema.Schema
	record     *jsonschema.Schema
	constraint *semver.Constraints
	logger     *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard) error

// WithVersionConstraint additionally requires the envelope version to be a
// semantic version satisfying constraint (e.g. ">= 1.0, < 2").
func WithVersionConstraint(constraint string) Option {
	return func(g *Guard) error {
		if strings.TrimSpace(constraint) == "" {
			return nil
		}
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
		}
		g.constraint = c
		return nil
	}
}

// WithLogger sets the logger used to report validation outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) error {
		g.logger = logger
		return nil
	}
}

// New compiles the embedded schemas and returns a Guard.
func New(opts ...Option) (*Guard, error) {
	registerFormats.Do(func() {
		jsonschema.Formats[timestampFormat] = isISO8601
	})

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	for name, url := range map[string]string{
		"schemas/envelope.schema.json": envelopeSchemaURL,
		"schemas/record.schema.json":   recordSchemaURL,
	} {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("driftguard: read %s: %w", name, err)
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("driftguard: schema load failed: %w", err)
		}
	}

	envelope, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("driftguard: envelope schema compile failed: %w", err)
	}
	record, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("driftguard: record schema compile failed: %w", err)
	}

	g := &Guard{
		envelope: envelope,
		record:   record,
		logger:   slog.Default().With("component", "driftguard"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

var (
	defaultGuard     *Guard
	defaultGuardErr  error
	defaultGuardOnce sync.Once
)

// Default returns a process-wide Guard without a version constraint.
func Default() (*Guard, error) {
	defaultGuardOnce.Do(func() {
		defaultGuard, defaultGuardErr = New()
	})
	return defaultGuard, defaultGuardErr
}

// Validate checks raw with the default Guard.
func Validate(raw string) (*Envelope, error) {
	g, err := Default()
	if err != nil {
		return nil, drift("", err, "validator unavailable: %v", err)
	}
	return g.Validate(raw)
}

// ValidateFile checks the contents of path with the default Guard.
func ValidateFile(path string) (*Envelope, error) {
	g, err := Default()
	if err != nil {
		return nil, drift("", err, "validator unavailable: %v", err)
	}
	return g.ValidateFile(path)
}

// ValidateFile reads path and validates its contents. Read failures are
// returned as-is (not as drift) so callers can distinguish a missing file
// from a non-conforming one.
func (g *Guard) ValidateFile(path string) (*Envelope, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return g.Validate(string(data))
}

// Validate parses raw and enforces the agent output schema. Any failure is a
// *SchemaDriftError; validation stops at the first offending record.
func (g *Guard) Validate(raw string) (*Envelope, error) {
	env, err := g.validate(raw)
	if err != nil {
		g.logger.Error("schema drift detected", "error", err)
		return nil, err
	}
	g.logger.Info("agent output validated",
		"version", env.Version,
		"records", len(env.Records),
		"digest", env.Digest,
	)
	return env, nil
}

func (g *Guard) validate(raw string) (*Envelope, error) {
	text := strings.TrimSpace(raw)

	doc, err := decodeJSON(text)
	if err != nil {
		return nil, drift("", err, "invalid JSON syntax in agent output: %v", err)
	}

	if err := g.envelope.Validate(doc); err != nil {
		return nil, fromValidationError("", err)
	}

	// The envelope schema guarantees an object with a string version and a
	// non-empty records array.
	root := doc.(map[string]any)
	if blank(root["version"]) {
		return nil, drift("/version", nil, "version must not be blank")
	}
	items, _ := root["records"].([]any)
	for i, item := range items {
		if err := g.record.Validate(item); err != nil {
			return nil, fromValidationError(fmt.Sprintf("/records/%d", i), err)
		}
		if blank(item.(map[string]any)["type"]) {
			return nil, drift(fmt.Sprintf("/records/%d/type", i), nil, "type must not be blank")
		}
	}

	env, err := decodeEnvelope(text)
	if err != nil {
		return nil, drift("", err, "decode validated payload: %v", err)
	}

	if g.constraint != nil {
		v, err := semver.NewVersion(env.Version)
		if err != nil {
			return nil, drift("/version", err, "version %q is not a semantic version", env.Version)
		}
		if !g.constraint.Check(v) {
			return nil, drift("/version", nil, "version %q does not satisfy %s", env.Version, g.constraint)
		}
	}

	// Numbers outside float64 range and lone surrogates conform but have no
	// canonical form; the digest is left empty for them.
	if canonical, err := canonicalize.TransformJSON([]byte(text)); err != nil {
		g.logger.Warn("payload digest unavailable", "error", err)
	} else {
		env.Digest = canonicalize.PrefixedHash(canonical)
	}

	return env, nil
}

// decodeJSON decodes a single JSON document with numbers kept as
// json.Number. Anything after the top-level value is an error.
func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

// blank reports whether v is a string that is empty after trimming Unicode
// white space. The schema pattern only rules out ASCII white space.
func blank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func decodeEnvelope(text string) (*Envelope, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}

	env.Version = strings.TrimSpace(env.Version)
	for i := range env.Records {
		rec := &env.Records[i]
		rec.Type = strings.TrimSpace(rec.Type)
		t, err := ParseTimestamp(rec.Timestamp)
		if err != nil {
			return nil, err
		}
		rec.Time = t
	}
	return &env, nil
}

// fromValidationError reduces a schema error tree to its first leaf, ordered by
// instance location then keyword location, so the report is deterministic.
func fromValidationError(prefix string, err error) *SchemaDriftError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return drift(prefix, err, "%v", err)
	}

	leaves := collectLeaves(verr, nil)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})
	first := leaves[0]

	return drift(prefix+first.InstanceLocation, verr, "%s", first.Message)
}

func collectLeaves(verr *jsonschema.ValidationError, acc []*jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return append(acc, verr)
	}
	for _, c := range verr.Causes {
		acc = collectLeaves(c, acc)
	}
	return acc
}
