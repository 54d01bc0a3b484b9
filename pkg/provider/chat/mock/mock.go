// Package mock provides a test double for the chat.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tutorvox/pkg/provider/chat"
)

var _ chat.Provider = (*Provider)(nil)

// Provider is a mock implementation of chat.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SendResult is returned by Send. When nil a reply echoing the message
	// with the default emotion is generated.
	SendResult *chat.Reply

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// HistoryResult is returned by History.
	HistoryResult []chat.HistoryEntry

	// HistoryErr, if non-nil, is returned by History.
	HistoryErr error

	// ClearErr, if non-nil, is returned by Clear.
	ClearErr error

	// --- Call records ---

	// SendCalls records every message passed to Send in order.
	SendCalls []string

	// HistoryCalls counts History invocations.
	HistoryCalls int

	// ClearCalls counts Clear invocations.
	ClearCalls int
}

// Send implements chat.Provider.
func (p *Provider) Send(_ context.Context, message string) (*chat.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls = append(p.SendCalls, message)
	if p.SendErr != nil {
		return nil, p.SendErr
	}
	if p.SendResult != nil {
		r := *p.SendResult
		return &r, nil
	}
	return &chat.Reply{UserMessage: message, AIResponse: message, Emotion: "default"}, nil
}

// History implements chat.Provider.
func (p *Provider) History(_ context.Context) ([]chat.HistoryEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HistoryCalls++
	if p.HistoryErr != nil {
		return nil, p.HistoryErr
	}
	return append([]chat.HistoryEntry(nil), p.HistoryResult...), nil
}

// Clear implements chat.Provider.
func (p *Provider) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClearCalls++
	return p.ClearErr
}

// Sent returns a copy of the recorded Send messages.
func (p *Provider) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.SendCalls...)
}

// ClearCount returns the number of Clear invocations.
func (p *Provider) ClearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ClearCalls
}
