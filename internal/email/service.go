// Package email delivers failure alerts for flow runs.
package email

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/flowcheck/internal/obs"
)

// EmailService sends templated emails.
type EmailService interface {
	// Send sends an email using the specified template.
	// Parameters:
	//   - to: recipient email address
	//   - templateName: name of the email template (e.g., "flow_failed")
	//   - data: template data (varies by template)
	Send(to, templateName string, data any) error
}

// SentEmail represents a captured email for testing.
type SentEmail struct {
	To       string
	Template string
	Data     any
}

// MockEmailService captures emails and writes each one to an outbox directory.
type MockEmailService struct {
	mu        sync.Mutex
	Emails    []SentEmail
	outboxDir string
	seq       uint64
}

// NewMockEmailService creates a mock service. The outbox lives under
// FLOWCHECK_MOCK_OUTBOX_DIR, or a temp directory when unset.
func NewMockEmailService() *MockEmailService {
	outboxDir := os.Getenv("FLOWCHECK_MOCK_OUTBOX_DIR")
	if outboxDir == "" {
		outboxDir = filepath.Join(os.TempDir(), "flowcheck-mock-email-outbox")
	}
	return NewMockEmailServiceWithOutbox(outboxDir)
}

// NewMockEmailServiceWithOutbox creates a mock service writing to dir.
// An empty dir disables the outbox.
func NewMockEmailServiceWithOutbox(dir string) *MockEmailService {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			obs.Pkg("email").Warn("outbox_dir_failed", "dir", dir, "error", err)
			dir = ""
		}
	}
	return &MockEmailService{
		Emails:    make([]SentEmail, 0),
		outboxDir: dir,
	}
}

// Send captures the email instead of sending it.
func (m *MockEmailService) Send(to, templateName string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = append(m.Emails, SentEmail{
		To:       to,
		Template: templateName,
		Data:     data,
	})

	log := obs.Pkg("email")
	event := outboxEmailEvent{
		To:             to,
		Template:       templateName,
		SentAtUnixNano: time.Now().UnixNano(),
	}
	switch d := data.(type) {
	case FlowFailedData:
		log.Info("mock_email", "to", to, "template", templateName, "run_id", d.RunID, "outcome", d.Outcome)
		event.RunID = d.RunID
		event.Outcome = d.Outcome
		event.Error = d.Error
	default:
		log.Info("mock_email", "to", to, "template", templateName)
		event.RawData = fmt.Sprintf("%+v", data)
	}

	return m.writeOutboxEvent(event)
}

// LastEmail returns the most recently sent email.
// Returns zero value if no emails have been sent.
func (m *MockEmailService) LastEmail() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Emails) == 0 {
		return SentEmail{}
	}
	return m.Emails[len(m.Emails)-1]
}

// Clear removes all captured emails.
func (m *MockEmailService) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = make([]SentEmail, 0)
}

// Count returns the number of captured emails.
func (m *MockEmailService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Emails)
}

type outboxEmailEvent struct {
	Sequence       uint64 `json:"sequence"`
	To             string `json:"to"`
	Template       string `json:"template"`
	RunID          string `json:"run_id,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Error          string `json:"error,omitempty"`
	RawData        string `json:"raw_data,omitempty"`
	SentAtUnixNano int64  `json:"sent_at_unix_nano"`
}

func (m *MockEmailService) writeOutboxEvent(event outboxEmailEvent) error {
	if m.outboxDir == "" {
		return nil
	}

	m.seq++
	event.Sequence = m.seq

	fileName := fmt.Sprintf(
		"%020d-%020d-%s-%s.json",
		event.Sequence,
		event.SentAtUnixNano,
		sanitizeOutboxComponent(event.Template),
		sanitizeOutboxComponent(event.To),
	)
	finalPath := filepath.Join(m.outboxDir, fileName)
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeOutboxComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return outboxSanitizePattern.ReplaceAllString(safe, "_")
}
