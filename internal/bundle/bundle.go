package bundle

import "time"

// StatusProcessed is the only status this pipeline version emits.
const StatusProcessed = "processed"

// UnknownPayloadType is reported when the payload carries no usable type.
const UnknownPayloadType = "unknown"

// Bundle is one untrusted unit of input. Payload is an open document; only
// its "type" member is read downstream.
type Bundle struct {
	BundleID  string         `json:"bundleId"`
	CreatedAt string         `json:"createdAt"`
	Producer  string         `json:"producer"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
	Checksum  string         `json:"checksum"`
}

// Result is the artifact persisted for an accepted bundle.
type Result struct {
	BundleID    string `json:"bundleId"`
	ProcessedAt string `json:"processedAt"`
	PayloadType string `json:"payloadType"`
	Status      string `json:"status"`
}

// TimestampLayout is used for processedAt and for producer createdAt values.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
