package notify

import (
	"context"
	"log"
	"sync"
)

// Console renders templates and writes them to the process log. Intended
// for development environments without an email provider.
type Console struct {
	registry *Registry
}

// NewConsole returns a Console notifier with the default templates.
func NewConsole() (*Console, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Console{registry: registry}, nil
}

// Send renders and logs the message.
func (c *Console) Send(ctx context.Context, kind Kind, recipient string, vars map[string]string) error {
	subject, body, err := c.registry.Render(kind, vars)
	if err != nil {
		return err
	}
	log.Printf("notify: to=%s subject=%q\n%s", recipient, subject, body)
	return nil
}

// Recorder captures sent messages for assertions in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []RecordedMessage
}

// RecordedMessage is one Send call captured by a Recorder.
type RecordedMessage struct {
	Kind      Kind
	Recipient string
	Vars      map[string]string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the message without delivering anything.
func (r *Recorder) Send(ctx context.Context, kind Kind, recipient string, vars map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	r.sent = append(r.sent, RecordedMessage{Kind: kind, Recipient: recipient, Vars: copied})
	return nil
}

// Sent returns a snapshot of everything recorded so far.
func (r *Recorder) Sent() []RecordedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedMessage(nil), r.sent...)
}
