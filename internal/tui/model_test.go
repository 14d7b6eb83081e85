package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"slab-scout/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

type stubLookup struct {
	calls  []string
	result *domain.LookupResult
	err    error
}

func (s *stubLookup) LookupByCert(_ context.Context, cert string) (*domain.LookupResult, error) {
	s.calls = append(s.calls, cert)
	return s.result, s.err
}

func price(v float64) *float64 { return &v }

func sampleResult() *domain.LookupResult {
	sold := make([]domain.MarketListing, 0, 7)
	for i := 0; i < 7; i++ {
		sold = append(sold, domain.MarketListing{
			Title:              fmt.Sprintf("1999 Pokemon Charizard #4 PSA 10 lot %d", i),
			Price:              price(float64(1000 + i)),
			Confidence:         8.3,
			ConfidenceCategory: domain.ConfidenceHigh,
		})
	}
	return &domain.LookupResult{
		Cert: &domain.CertificationRecord{
			CertNumber: "12345678",
			Subject:    "Charizard",
			Brand:      "Pokemon Base Set",
			CardNumber: "4",
			Grade:      "10",
			Year:       "1999",
			Population: domain.PopulationStats{Total: 121, Higher: 0},
		},
		Sold: sold,
		Meta: domain.LookupMeta{
			Counts: domain.MarketCounts{Sold: 7},
			Cached: true,
		},
	}
}

func typeCert(m Model, cert string) Model {
	m.input.SetValue(cert)
	return m
}

func press(t *testing.T, m Model, key tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(Model), cmd
}

func TestEnterStartsLookup(t *testing.T) {
	lookup := &stubLookup{result: sampleResult()}
	m := typeCert(NewModel(lookup, "ash"), " 12345678 ")

	m, cmd := press(t, m, tea.KeyEnter)
	if !m.loading {
		t.Fatal("expected loading after enter")
	}
	if cmd == nil {
		t.Fatal("expected a command to be scheduled")
	}
	if !strings.Contains(m.View(), "looking up 12345678") {
		t.Fatalf("expected progress line, got:\n%s", m.View())
	}

	msg := m.lookupCmd(m.cert)()
	if len(lookup.calls) != 1 || lookup.calls[0] != "12345678" {
		t.Fatalf("unexpected lookup calls: %v", lookup.calls)
	}

	next, _ := m.Update(msg)
	m = next.(Model)
	if m.loading {
		t.Fatal("expected loading to end after result")
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input cleared, got %q", m.input.Value())
	}

	view := m.View()
	for _, want := range []string{"Charizard", "PSA 10", "cached", "Sold", "+2 more", "1000.00"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestEnterIgnoredWhenEmptyOrRepeated(t *testing.T) {
	lookup := &stubLookup{}
	m := NewModel(lookup, "")

	m, cmd := press(t, m, tea.KeyEnter)
	if m.loading || cmd != nil {
		t.Fatal("empty input should not start a lookup")
	}

	m = typeCert(m, "12345678")
	m, _ = press(t, m, tea.KeyEnter)
	m, cmd = press(t, m, tea.KeyEnter)
	if cmd != nil {
		t.Fatal("repeating the in-flight cert should be ignored")
	}
	if !strings.Contains(m.View(), "signed in as unknown") {
		t.Fatalf("expected default username in view:\n%s", m.View())
	}
}

func TestLookupErrorsRendered(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", fmt.Errorf("cert 99999999: %w", domain.ErrNotFound), "cert 99999999 not found"},
		{"rate limited", &domain.RateLimitedError{Service: "psa", Attempts: 4}, "rate limited"},
		{"other", errors.New("boom"), "lookup failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := typeCert(NewModel(&stubLookup{err: tt.err}, "ash"), "99999999")
			m, _ = press(t, m, tea.KeyEnter)

			next, _ := m.Update(m.lookupCmd(m.cert)())
			m = next.(Model)
			if m.input.Value() != "99999999" {
				t.Fatalf("input should be kept on error, got %q", m.input.Value())
			}
			if !strings.Contains(m.View(), tt.want) {
				t.Fatalf("view missing %q:\n%s", tt.want, m.View())
			}
		})
	}
}

func TestResubmitDropsStaleResult(t *testing.T) {
	first := sampleResult()
	second := sampleResult()
	second.Cert.CertNumber = "22222222"
	second.Cert.Subject = "Blastoise"
	second.Sold = nil

	m := typeCert(NewModel(&stubLookup{result: first}, "ash"), "11111111")
	m, _ = press(t, m, tea.KeyEnter)
	staleMsg := m.lookupCmd("11111111")()

	m = typeCert(m, "22222222")
	m.lookup = &stubLookup{result: second}
	m, cmd := press(t, m, tea.KeyEnter)
	if cmd == nil {
		t.Fatal("a different cert should start a new lookup while loading")
	}
	if m.cert != "22222222" || !m.loading {
		t.Fatalf("expected lookup of 22222222 in flight, got cert=%s loading=%v", m.cert, m.loading)
	}

	next, _ := m.Update(staleMsg)
	m = next.(Model)
	if !m.loading || m.result != nil {
		t.Fatal("result for the replaced cert should be dropped")
	}

	next, _ = m.Update(m.lookupCmd("22222222")())
	m = next.(Model)
	if m.loading {
		t.Fatal("expected loading to end after the current result")
	}
	if !strings.Contains(m.View(), "Blastoise") || strings.Contains(m.View(), "Charizard") {
		t.Fatalf("expected only the current result in view:\n%s", m.View())
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		_, cmd := press(t, NewModel(&stubLookup{}, "ash"), key)
		if cmd == nil {
			t.Fatalf("expected quit command for %v", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg for %v", key)
		}
	}
}

func TestMarketDataErrorShown(t *testing.T) {
	res := sampleResult()
	res.Sold = nil
	res.Meta.MarketDataError = "market data client not configured"

	view := renderResult(res, 80)
	if !strings.Contains(view, "market data unavailable: market data client not configured") {
		t.Fatalf("expected market data error in view:\n%s", view)
	}
	if strings.Contains(view, "Sold") {
		t.Fatalf("empty sections should be skipped:\n%s", view)
	}
}

func TestWindowSize(t *testing.T) {
	next, _ := NewModel(&stubLookup{}, "ash").Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m := next.(Model)
	if m.width != 100 || m.height != 40 {
		t.Fatalf("unexpected size %dx%d", m.width, m.height)
	}
}
