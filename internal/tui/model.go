// Package tui is the interactive cert lookup console served over SSH.
package tui

import (
	"context"
	"strings"
	"time"

	"slab-scout/internal/domain"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const defaultLookupTimeout = 45 * time.Second

// Lookup is the subset of the lookup service the console drives.
type Lookup interface {
	LookupByCert(ctx context.Context, certNumber string) (*domain.LookupResult, error)
}

type lookupResultMsg struct {
	cert   string
	result *domain.LookupResult
	err    error
}

type Model struct {
	lookup   Lookup
	username string
	timeout  time.Duration

	input   textinput.Model
	spinner spinner.Model

	loading bool
	cert    string
	result  *domain.LookupResult
	err     error

	width  int
	height int
}

func NewModel(lookup Lookup, username string) Model {
	in := textinput.New()
	in.Placeholder = "PSA cert number"
	in.CharLimit = 12
	in.Width = 20
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	if username == "" {
		username = "unknown"
	}

	return Model{
		lookup:   lookup,
		username: username,
		timeout:  defaultLookupTimeout,
		input:    in,
		spinner:  sp,
	}
}

// SetSize records the initial terminal dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			cert := strings.TrimSpace(m.input.Value())
			if cert == "" || (m.loading && cert == m.cert) {
				return m, nil
			}
			// A new cert replaces any lookup still in flight; its result
			// is dropped when it arrives.
			cmds := []tea.Cmd{m.lookupCmd(cert)}
			if !m.loading {
				cmds = append(cmds, m.spinner.Tick)
			}
			m.loading = true
			m.cert = cert
			m.err = nil
			return m, tea.Batch(cmds...)
		}

	case lookupResultMsg:
		if msg.cert != m.cert {
			return m, nil
		}
		m.loading = false
		m.result = msg.result
		m.err = msg.err
		if msg.err == nil {
			m.input.SetValue("")
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) lookupCmd(cert string) tea.Cmd {
	lookup := m.lookup
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := lookup.LookupByCert(ctx, cert)
		return lookupResultMsg{cert: cert, result: res, err: err}
	}
}
