package session

import (
	"net/http"
	"strings"
)

// DeviceHeader is the custom header clients normally send their id in.
const DeviceHeader = "X-Device-ID"

// DeviceID resolves the device identifier for a request. Precedence: the
// X-Device-ID header, then the id the handler pulled from its decoded body
// (JSON device_id or form field), first match wins. Requests with no id at
// all are rejected with ErrMissingDeviceID.
func DeviceID(r *http.Request, bodyID string) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(DeviceHeader)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(bodyID); id != "" {
		return id, nil
	}
	return "", ErrMissingDeviceID
}
