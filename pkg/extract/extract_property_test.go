//go:build property
// +build property

package extract_test

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/clearinghouse/pkg/extract"
)

func objects(ids []string) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		out = append(out, map[string]any{"id": id, "seq": json.Number(fmt.Sprint(i))})
	}
	return out
}

func sameRecords(got []extract.Record, want []map[string]any) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], any(want[i])) {
			return false
		}
	}
	return true
}

// Property: a non-empty array is returned verbatim, in order.
func TestExtractArrayIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("array payloads round-trip", prop.ForAll(
		func(ids []string) bool {
			if len(ids) == 0 {
				return true
			}
			want := objects(ids)
			raw, err := json.Marshal(want)
			if err != nil {
				return false
			}
			got, err := extract.Extract(raw)
			return err == nil && sameRecords(got, want)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("records/data envelopes are unwrapped", prop.ForAll(
		func(ids []string, useData bool) bool {
			if len(ids) == 0 {
				return true
			}
			want := objects(ids)
			key := "records"
			if useData {
				key = "data"
			}
			raw, err := json.Marshal(map[string]any{"batch_id": "b", key: want})
			if err != nil {
				return false
			}
			got, err := extract.Extract(raw)
			return err == nil && sameRecords(got, want)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	properties.Property("objects without envelopes become one record", prop.ForAll(
		func(k, v string) bool {
			if k == "records" || k == "data" {
				return true
			}
			obj := map[string]any{k: v}
			raw, err := json.Marshal(obj)
			if err != nil {
				return false
			}
			got, err := extract.Extract(raw)
			return err == nil && len(got) == 1 && reflect.DeepEqual(got[0], any(obj))
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
