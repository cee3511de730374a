package outputs

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// Publisher delivers one serialized event to a topic and returns the sink's
// message id. Implementations are at-least-once; callers must tolerate
// duplicate deliveries.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// LocalFilePublisher appends events to one JSONL file per topic under a base
// directory. The message id is the SHA-1 of the payload, so replays of the
// same bytes are recognizable downstream.
type LocalFilePublisher struct {
	dir string
	mu  sync.Mutex
}

// NewLocalFilePublisher returns a publisher writing under dir. The directory
// is created lazily on first publish.
func NewLocalFilePublisher(dir string) *LocalFilePublisher {
	return &LocalFilePublisher{dir: dir}
}

func (p *LocalFilePublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "outputs: create events dir")
	}
	path := filepath.Join(p.dir, topic+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", eris.Wrap(err, "outputs: open topic file")
	}
	defer f.Close()

	if _, err := f.Write(payload); err != nil {
		return "", eris.Wrap(err, "outputs: append event")
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return "", eris.Wrap(err, "outputs: append event")
	}

	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}
