package extract

import (
	"errors"
	"testing"
)

func FuzzExtract(f *testing.F) {
	f.Add([]byte(`[{"id":"txn-001","amount":100.0}]`))
	f.Add([]byte(`{"records":[{"a":1}]}`))
	f.Add([]byte(`{"data":[1,2,3]}`))
	f.Add([]byte(`{"records":"oops"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`   `))
	f.Add([]byte(`null`))
	f.Add([]byte{0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		records, err := Extract(data)
		if err != nil {
			// Every failure must be classified.
			var mpe *MalformedPayloadError
			if !errors.As(err, &mpe) {
				t.Fatalf("unclassified error: %v", err)
			}
			if records != nil {
				t.Fatal("records returned alongside an error")
			}
			return
		}
		if len(records) == 0 {
			t.Fatal("success with zero records")
		}
	})
}
