// Package directory resolves the stakeholders of a company.
package directory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/garyjia/booking-approval/internal/application/port"
)

// Static is a StakeholderDirectory backed by configuration. Company names
// match case-insensitively. Replace swaps the whole table, so a reloaded
// config takes effect for the next notification.
type Static struct {
	mu      sync.RWMutex
	entries map[string]port.Stakeholders
}

// NewStatic creates a directory from company -> stakeholders
func NewStatic(entries map[string]port.Stakeholders) *Static {
	s := &Static{}
	s.Replace(entries)
	return s
}

// Replace installs a new table
func (s *Static) Replace(entries map[string]port.Stakeholders) {
	normalized := make(map[string]port.Stakeholders, len(entries))
	for company, st := range entries {
		normalized[normalize(company)] = st
	}

	s.mu.Lock()
	s.entries = normalized
	s.mu.Unlock()
}

// Lookup returns the stakeholders of company, or an error when it is not configured
func (s *Static) Lookup(company string) (port.Stakeholders, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.entries[normalize(company)]
	if !ok {
		return port.Stakeholders{}, fmt.Errorf("no stakeholders configured for company %q", company)
	}
	return st, nil
}

// Companies returns the configured company keys
func (s *Static) Companies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for c := range s.entries {
		out = append(out, c)
	}
	return out
}

func normalize(company string) string {
	return strings.ToLower(strings.TrimSpace(company))
}

// Verify interface compliance
var _ port.StakeholderDirectory = (*Static)(nil)
