// Package qr turns scanned QR payloads into the identifier the ERP keys
// work orders by. Stop QR codes encode a URL of the form
// https://<host>/IdQr/<id>; hand-typed or legacy codes carry the bare id.
package qr

import "strings"

// Marker separates the carrier URL from the work-order identifier.
const Marker = "IdQr/"

// ExtractID returns the portion of payload after the last Marker occurrence,
// or the whole payload when the marker is absent. The operation is
// idempotent: extracting an already extracted id yields the same value.
func ExtractID(payload string) string {
	if payload == "" {
		return payload
	}
	if idx := strings.LastIndex(payload, Marker); idx >= 0 {
		return payload[idx+len(Marker):]
	}
	return payload
}
