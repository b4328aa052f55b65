package observability

import "go.opentelemetry.io/otel/attribute"

// ObjectAttrs returns the attributes identifying a source object.
func ObjectAttrs(bucket, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("clearinghouse.bucket", bucket),
		attribute.String("clearinghouse.key", key),
	}
}
