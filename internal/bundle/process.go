package bundle

import (
	"encoding/json"
	"fmt"
	"time"
)

// Process derives the result for a bundle that already passed validation,
// checksum and signature checks. It has no failure modes.
func Process(b *Bundle, now time.Time) Result {
	return Result{
		BundleID:    b.BundleID,
		ProcessedAt: FormatTimestamp(now),
		PayloadType: PayloadType(b.Payload),
		Status:      StatusProcessed,
	}
}

// PayloadType reads payload.type. Absent or null types are "unknown";
// non-string scalars are rendered as their JSON text.
func PayloadType(payload map[string]any) string {
	v, ok := payload["type"]
	if !ok || v == nil {
		return UnknownPayloadType
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool, float64:
		return fmt.Sprint(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return UnknownPayloadType
		}
		return string(raw)
	}
}
