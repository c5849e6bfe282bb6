package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Recipient is one addressable target of a run.
type Recipient struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Sector string `json:"sector,omitempty"`
	Site   string `json:"site,omitempty"`
}

// Key identifies the recipient's status entry: name + "_" + raw phone.
// Duplicate recipients share an entry.
func (r Recipient) Key() string { return r.Name + "_" + r.Phone }

// Job is the input of one run.
type Job struct {
	ID             string      `json:"id"`
	Recipients     []Recipient `json:"recipients"`
	AttachmentPath string      `json:"attachment_path,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// HasMessage reports whether the job carries non-blank text.
func (j Job) HasMessage() bool { return strings.TrimSpace(j.Message) != "" }

// Validate rejects jobs with nothing to send. The engine still guards each
// recipient, so this is an early check for callers.
func (j Job) Validate() error {
	if !j.HasMessage() && strings.TrimSpace(j.AttachmentPath) == "" {
		return errors.New("job has neither message nor attachment")
	}
	return nil
}

// handoff accepts both the current keys and the legacy ones written by the
// upload UI (colaboradores/comunicado_path/mensagem).
type handoff struct {
	ID             string         `json:"id"`
	Recipients     []handoffEntry `json:"recipients"`
	AttachmentPath *string        `json:"attachment_path"`
	Message        *string        `json:"message"`
	Colaboradores  []legacyEntry  `json:"colaboradores"`
	ComunicadoPath *string        `json:"comunicado_path"`
	Mensagem       *string        `json:"mensagem"`
}

type handoffEntry struct {
	Name   looseString `json:"name"`
	Phone  looseString `json:"phone"`
	Sector looseString `json:"sector"`
	Site   looseString `json:"site"`
}

type legacyEntry struct {
	Name   looseString `json:"Nome"`
	Phone  looseString `json:"Telefone"`
	Sector looseString `json:"Setor"`
	Site   looseString `json:"Obra"`
}

// looseString takes a JSON string, number or null. Spreadsheet exports turn
// phone columns into floats ("11988887777.0"), which must keep their digits.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	v := n.String()
	if i := strings.IndexByte(v, '.'); i >= 0 && strings.Trim(v[i+1:], "0") == "" {
		v = v[:i]
	}
	*s = looseString(v)
	return nil
}

// ParseJob decodes a handoff document. Missing IDs get a random UUID.
func ParseJob(data []byte) (Job, error) {
	var h handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Job{}, fmt.Errorf("parse job: %w", err)
	}

	job := Job{ID: strings.TrimSpace(h.ID)}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	switch {
	case h.Recipients != nil:
		for _, e := range h.Recipients {
			job.Recipients = append(job.Recipients, Recipient{
				Name: string(e.Name), Phone: string(e.Phone), Sector: string(e.Sector), Site: string(e.Site),
			})
		}
	case h.Colaboradores != nil:
		for _, e := range h.Colaboradores {
			job.Recipients = append(job.Recipients, Recipient{
				Name: string(e.Name), Phone: string(e.Phone), Sector: string(e.Sector), Site: string(e.Site),
			})
		}
	default:
		return Job{}, errors.New("parse job: no recipients list")
	}
	job.AttachmentPath = strings.TrimSpace(firstNonNil(h.AttachmentPath, h.ComunicadoPath))
	job.Message = firstNonNil(h.Message, h.Mensagem)
	return job, nil
}

// LoadJob reads and parses a handoff file.
func LoadJob(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("load job: %w", err)
	}
	return ParseJob(b)
}

// WriteJob writes job as a handoff file (current keys).
func WriteJob(path string, job Job) error {
	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func firstNonNil(vs ...*string) string {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return ""
}
