package erp

import "encoding/json"

// Task is a work order linked to a QR identifier. The ERP identifies it by
// its Navision id within a tenant ("empresa"). The resolver may attach
// additional fields; Raw preserves them so candidate lists reach the caller
// verbatim.
type Task struct {
	IDNavision  string `json:"idnavision"`
	Empresa     string `json:"empresa"`
	Descripcion string `json:"descripcion,omitempty"`

	raw json.RawMessage
}

// Valid reports whether the task carries the fields a submission needs.
func (t Task) Valid() bool {
	return t.IDNavision != "" && t.Empresa != ""
}

func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Task(a)
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the resolver's original document when available so
// no resolver-supplied field is dropped on the way back to the caller.
func (t Task) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	type alias Task
	return json.Marshal(alias(t))
}

// Kind tags the outcome of a QR work-order lookup.
type Kind int

const (
	// None means no work order is linked to the QR id.
	None Kind = iota
	// One means exactly one candidate exists and was auto-selected.
	One
	// Many means the caller must pick a task before the pipeline continues.
	Many
)

// Resolution is the tagged result of resolving a QR identifier. Ambiguity is
// a first-class value here, never an error.
type Resolution struct {
	Kind  Kind
	Tasks []Task
}

// Resolve classifies a candidate list.
func Resolve(tasks []Task) Resolution {
	switch len(tasks) {
	case 0:
		return Resolution{Kind: None}
	case 1:
		return Resolution{Kind: One, Tasks: tasks}
	default:
		return Resolution{Kind: Many, Tasks: tasks}
	}
}

// Task returns the auto-selected task for a One resolution.
func (r Resolution) Task() Task {
	if r.Kind == One && len(r.Tasks) == 1 {
		return r.Tasks[0]
	}
	return Task{}
}

// FixationRecord is the minimal "attach one photo to one work order" payload.
// Field names are the ERP's wire vocabulary and must not be translated.
type FixationRecord struct {
	QRTarea    string     `json:"qrtarea"`
	IDNavision string     `json:"idnavision"`
	Empresa    string     `json:"empresa"`
	User       string     `json:"user"`
	Document   []Document `json:"document"`
}

// Document wraps one attached file the way the ERP expects it.
type Document struct {
	Document DocumentBody `json:"document"`
}

// DocumentBody carries the hosted URL (or inline payload), display name and
// the storage id needed for rollback.
type DocumentBody struct {
	File   string `json:"file,omitempty"`
	URL    string `json:"url,omitempty"`
	Name   string `json:"name"`
	FileID string `json:"file_id"`
}

// IncidenceRecord is the full incidence report schema.
type IncidenceRecord struct {
	State         string      `json:"state"`
	IncidenceType string      `json:"incidenceType"`
	Observation   string      `json:"observation"`
	Description   string      `json:"description"`
	Resource      string      `json:"resource"`
	Image         []Document  `json:"image"`
	Audio         []AudioFile `json:"audio"`
}

// AudioFile is a hosted audio attachment.
type AudioFile struct {
	File   string `json:"file"`
	Name   string `json:"name"`
	FileID string `json:"file_id,omitempty"`
}

// SubmitResult carries the ERP's verbatim response for diagnostics.
type SubmitResult struct {
	StatusCode int
	Body       string
}
