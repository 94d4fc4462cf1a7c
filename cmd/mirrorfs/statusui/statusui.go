// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statusui is a separate package from cmd/mirrorfs's main
// package so that the charmbracelet/bubbletea dependency (and its
// transitive closure: lipgloss, termenv, x/ansi) is only linked into
// code paths that actually render the interactive status view, not
// into the plain-text/yaml code paths used in scripts.
package statusui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	cleanStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	addedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	modifiedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	missingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	untrackedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	selectedStyle  = lipgloss.NewStyle().Reverse(true)
)

func styleFor(status string) lipgloss.Style {
	switch status {
	case "ADDED":
		return addedStyle
	case "REMOVED":
		return removedStyle
	case "MODIFIED":
		return modifiedStyle
	case "MISSING":
		return missingStyle
	case "NOT_TRACKED":
		return untrackedStyle
	default:
		return cleanStyle
	}
}

// Entry is one row in the status listing.
type Entry struct {
	Path   string
	Status string
}

var keyMap = struct {
	Up, Down, Quit key.Binding
}{
	Up:   key.NewBinding(key.WithKeys("up", "k")),
	Down: key.NewBinding(key.WithKeys("down", "j")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc")),
}

type model struct {
	entries  []Entry
	cursor   int
	snapshot string
}

// NewModel builds the interactive status browser, sorted by path.
func NewModel(snapshot string, entries []Entry) tea.Model {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return model{entries: sorted, snapshot: snapshot}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(keyMsg, keyMap.Quit):
		return m, tea.Quit
	case key.Matches(keyMsg, keyMap.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, keyMap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  snapshot %s\n\n", headerStyle.Render("mirrorfs status"), m.snapshot)

	if len(m.entries) == 0 {
		b.WriteString(cleanStyle.Render("working tree clean") + "\n")
		return b.String()
	}

	for i, e := range m.entries {
		line := fmt.Sprintf("%-11s %s", styleFor(e.Status).Render(e.Status), e.Path)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + cleanStyle.Render("↑/↓ move · q quit") + "\n")
	return b.String()
}
