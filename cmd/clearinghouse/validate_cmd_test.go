package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validFile   = "../../pkg/driftguard/testdata/valid_trades.json"
	driftedFile = "../../pkg/driftguard/testdata/drifted_extra_field.json"
)

func TestValidateCmd_File(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{validFile}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Validation passed")
	assert.Contains(t, out.String(), "Version: 1.0.0")
	assert.Contains(t, out.String(), "Records: 2")
	assert.Contains(t, out.String(), "Source: trade-normalizer-agent")
	assert.NotContains(t, out.String(), "Summary:")
}

func TestValidateCmd_RawTextFallback(t *testing.T) {
	raw := `{"version":"2","records":[{"id":"a","timestamp":"2024-01-01T00:00:00Z","type":"t","data":{}}]}`

	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{raw}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Records: 1")
	assert.NotContains(t, out.String(), "Source:")
}

func TestValidateCmd_DriftExitsNonZero(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{`{"records":[]}`}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Validation failed")
	assert.Contains(t, out.String(), "schema drift")
}

func TestValidateCmd_Summary(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{validFile, driftedFile}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Summary:")
	assert.Contains(t, out.String(), "1/2 passed")
}

func TestValidateCmd_JSON(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{"--json", validFile, driftedFile}, &out, &errOut)
	assert.Equal(t, 1, code)

	var results []validationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2)

	assert.True(t, results[0].Passed)
	assert.Equal(t, validFile, results[0].Input)
	assert.Contains(t, results[0].Digest, "sha256:")

	assert.False(t, results[1].Passed)
	assert.Equal(t, "/records/0", results[1].Pointer)
	assert.NotEmpty(t, results[1].Error)
}

func TestValidateCmd_VersionConstraint(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runValidateCmd([]string{"--constraint", ">= 2", validFile}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "/version")
}

func TestValidateCmd_UsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runValidateCmd(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage:")

	errOut.Reset()
	assert.Equal(t, 2, runValidateCmd([]string{"--constraint", "not a constraint!", validFile}, &out, &errOut))
	assert.Contains(t, errOut.String(), "invalid version constraint")
}

func TestInputLabel(t *testing.T) {
	assert.Equal(t, validFile, inputLabel(validFile))
	assert.Equal(t, `{"a": 1}`, inputLabel("{\"a\":\n  1}"))

	long := `{"version":"1","records":[{"id":"x","timestamp":"2024-01-01","type":"t","data":{}}]}`
	label := inputLabel(long)
	assert.Len(t, label, 48)
	assert.True(t, len(label) < len(long))
}
