package outputs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/resilience"
)

// DeadLetterEntry is one publish that failed after retries, kept with enough
// context to replay it by hand once the sink recovers.
type DeadLetterEntry struct {
	Topic      string          `json:"topic"`
	FailedAt   time.Time       `json:"failed_at"`
	Error      string          `json:"error"`
	ErrorClass string          `json:"error_class"` // transient or permanent
	Event      json.RawMessage `json:"event"`
}

// DeadLetter appends failed publishes to <dir>/<topic>.dlq.jsonl.
type DeadLetter struct {
	dir string
	mu  sync.Mutex
}

// NewDeadLetter returns a dead-letter writer rooted at dir.
func NewDeadLetter(dir string) *DeadLetter {
	return &DeadLetter{dir: dir}
}

// Record appends one entry. The payload is the event exactly as it would
// have been published.
func (d *DeadLetter) Record(topic string, payload []byte, cause error) error {
	entry := DeadLetterEntry{
		Topic:      topic,
		FailedAt:   time.Now().UTC(),
		Error:      cause.Error(),
		ErrorClass: resilience.ClassifyError(cause),
		Event:      json.RawMessage(payload),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "outputs: encode dead letter")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return eris.Wrap(err, "outputs: create dead letter dir")
	}
	f, err := os.OpenFile(filepath.Join(d.dir, topic+".dlq.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrap(err, "outputs: open dead letter file")
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(line); err != nil {
		return eris.Wrap(err, "outputs: write dead letter")
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return eris.Wrap(err, "outputs: write dead letter")
	}
	return nil
}
