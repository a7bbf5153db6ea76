// Package testutil provides shared test doubles for polybus's package
// tests: a scriptable stub transport and a mock logger that captures
// entries for assertion, mirroring the teacher's coreengine/testutil
// mocks adapted to the bus's own interfaces.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/polybus/polybus"
)

// StubTransport is a polybus.Transport double that records every
// transaction handed to it and every subscription request, and lets tests
// script its declared capabilities and Handle's return value.
type StubTransport struct {
	DeadLetter string

	DelayedCommands  bool
	CommandMessages  bool
	Subscriptions    bool

	HandleFunc func(ctx context.Context, tx polybus.Transaction) error

	mu           sync.Mutex
	handled      []polybus.Transaction
	subscribed   []polybus.MessageInfo
	started      bool
	stopped      bool
}

// NewStubTransport returns a StubTransport that supports everything and
// names "dead.letters" as its dead-letter endpoint.
func NewStubTransport() *StubTransport {
	return &StubTransport{
		DeadLetter:      "dead.letters",
		DelayedCommands: true,
		CommandMessages: true,
		Subscriptions:   true,
	}
}

func (s *StubTransport) DeadLetterEndpoint() string      { return s.DeadLetter }
func (s *StubTransport) SupportsDelayedCommands() bool { return s.DelayedCommands }
func (s *StubTransport) SupportsCommandMessages() bool  { return s.CommandMessages }
func (s *StubTransport) SupportsSubscriptions() bool    { return s.Subscriptions }

func (s *StubTransport) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *StubTransport) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *StubTransport) Handle(ctx context.Context, tx polybus.Transaction) error {
	s.mu.Lock()
	s.handled = append(s.handled, tx)
	fn := s.HandleFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, tx)
	}
	return nil
}

func (s *StubTransport) Subscribe(ctx context.Context, info polybus.MessageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, info)
	return nil
}

// Handled returns a snapshot of every transaction passed to Handle.
func (s *StubTransport) Handled() []polybus.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]polybus.Transaction, len(s.handled))
	copy(out, s.handled)
	return out
}

// Subscribed returns a snapshot of every MessageInfo passed to Subscribe.
func (s *StubTransport) Subscribed() []polybus.MessageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]polybus.MessageInfo, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

// Started reports whether Start has been called.
func (s *StubTransport) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stopped reports whether Stop has been called.
func (s *StubTransport) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

var _ polybus.Transport = (*StubTransport)(nil)

// LogEntry is one captured MockLogger call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// MockLogger implements polybus.Logger, capturing every call for
// assertion instead of writing anywhere.
type MockLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

// NewMockLogger returns an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.log("debug", msg, keysAndValues...) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.log("info", msg, keysAndValues...) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.log("warn", msg, keysAndValues...) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.log("error", msg, keysAndValues...) }

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, LogEntry{Level: level, Message: msg, Fields: keysAndValues})
}

// Logs returns a snapshot of every captured entry.
func (m *MockLogger) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

// HasLog reports whether an entry at level with message was captured.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.logs {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}

var _ polybus.Logger = (*MockLogger)(nil)

// FixedClock returns a func() time.Time that always returns t, for
// injecting into retry.Config.Now in tests that assert exact delay
// windows.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
