package erp

import (
	"encoding/json"
	"fmt"
)

// The ERP's OData procedures take and return JSON-encoded-as-a-string
// payloads. Requests wrap the record in {"jsonText": "<json>"}; task lookups
// answer with {"value": "<json>"} where the inner document is an array whose
// first element holds the candidate list under "tareas". Both stages of that
// quirk live here so nothing else in the gateway reasons about
// string-encoded JSON.

type envelope struct {
	JSONText string `json:"jsonText"`
}

// wrapJSONText serializes v and nests it as the string the ERP expects.
func wrapJSONText(v any) ([]byte, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("erp: encode record: %w", err)
	}
	return json.Marshal(envelope{JSONText: string(inner)})
}

type taskEnvelope struct {
	Value string `json:"value"`
}

type taskGroup struct {
	IDQr   string `json:"idqr"`
	Tareas []Task `json:"tareas"`
}

// decodeTaskEnvelope performs the two-stage decode of a task-lookup
// response. A missing or malformed inner payload degrades to an empty
// candidate list: partial information is still useful to the caller and the
// lookup call itself did succeed.
func decodeTaskEnvelope(body []byte) []Task {
	var outer taskEnvelope
	if err := json.Unmarshal(body, &outer); err != nil || outer.Value == "" {
		return nil
	}
	var groups []taskGroup
	if err := json.Unmarshal([]byte(outer.Value), &groups); err != nil {
		return nil
	}
	if len(groups) == 0 {
		return nil
	}
	return groups[0].Tareas
}
