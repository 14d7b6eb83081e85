package tui

import (
	"errors"
	"fmt"
	"strings"

	"slab-scout/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

const listingsPerSection = 5

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	certStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	confidenceStyles = map[domain.ConfidenceCategory]lipgloss.Style{
		domain.ConfidenceHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domain.ConfidenceMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.ConfidenceLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("slab-scout"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  signed in as %s", m.username)))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" looking up %s...", m.cert))
	case m.err != nil:
		b.WriteString(errorStyle.Render(describeError(m.cert, m.err)))
	case m.result != nil:
		b.WriteString(renderResult(m.result, m.width))
	}

	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render("enter: look up • esc: quit"))
	return b.String()
}

func describeError(cert string, err error) string {
	switch {
	case domain.IsValidation(err):
		return err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("cert %s not found", cert)
	case errors.Is(err, domain.ErrRateLimited):
		return "upstream rate limited, retry later"
	default:
		return fmt.Sprintf("lookup failed: %v", err)
	}
}

func renderResult(res *domain.LookupResult, width int) string {
	var b strings.Builder

	if c := res.Cert; c != nil {
		card := fmt.Sprintf("%s %s %s #%s\nPSA %s  pop %d (%d higher)",
			c.Year, c.Brand, c.Subject, c.CardNumber, c.Grade,
			c.Population.Total, c.Population.Higher)
		b.WriteString(certStyle.Render(card))
		b.WriteString("\n")
	}

	meta := res.Meta
	source := "live"
	if meta.Cached {
		source = "cached"
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s • %dms • sold %d • active %d • auctions %d",
		source, meta.ResponseTimeMs, meta.Counts.Sold, meta.Counts.Active, meta.Counts.Auctions)))
	b.WriteString("\n")

	if meta.MarketDataError != "" {
		b.WriteString(errorStyle.Render("market data unavailable: " + meta.MarketDataError))
		b.WriteString("\n")
	}

	sections := []struct {
		name     string
		listings []domain.MarketListing
	}{
		{"Sold", res.Sold},
		{"Active", res.Active},
		{"Auctions", res.Auctions},
	}
	for _, s := range sections {
		if len(s.listings) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(headerStyle.Render(s.name))
		b.WriteString("\n")
		for i, l := range s.listings {
			if i == listingsPerSection {
				b.WriteString(mutedStyle.Render(fmt.Sprintf("  +%d more", len(s.listings)-i)))
				b.WriteString("\n")
				break
			}
			b.WriteString(renderListing(l, width))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func renderListing(l domain.MarketListing, width int) string {
	price := l.PriceFormatted
	if price == "" && l.Price != nil {
		price = fmt.Sprintf("%.2f", *l.Price)
	}
	if price == "" {
		price = "-"
	}

	score := fmt.Sprintf("%4.1f", l.Confidence)
	if style, ok := confidenceStyles[l.ConfidenceCategory]; ok {
		score = style.Render(score)
	}

	line := fmt.Sprintf("  %s  %10s  %s", score, price, l.Title)
	if width > 0 {
		line = lipgloss.NewStyle().MaxWidth(width).Render(line)
	}
	return line
}
