package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/programme-lv/autotest/testrun"
)

const refreshEvery = 2 * time.Second

type runLister interface {
	ListInProgress(ctx context.Context, assignmentID int64) ([]testrun.TestRun, error)
}

type statusFetcher interface {
	Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

type snapshotMsg struct {
	runs     []testrun.TestRun
	statuses map[int64]string
	err      error
	at       time.Time
}

type tickMsg time.Time

type watchModel struct {
	assignmentID int64
	runs         runLister
	remote       statusFetcher
	spinner      spinner.Model

	snapshot snapshotMsg
	loaded   bool
}

func newWatchModel(assignmentID int64, runs runLister, remote statusFetcher) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{assignmentID: assignmentID, runs: runs, remote: remote, spinner: s}
}

func (m watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), refreshEvery)
	defer cancel()
	snap := snapshotMsg{at: time.Now()}
	snap.runs, snap.err = m.runs.ListInProgress(ctx, m.assignmentID)
	if snap.err == nil && len(snap.runs) > 0 {
		snap.statuses, snap.err = m.remote.Statuses(ctx, m.assignmentID, snap.runs)
	}
	return snap
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case snapshotMsg:
		m.snapshot = msg
		m.loaded = true
		return m, tick()
	case tickMsg:
		return m, m.fetch
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Assignment %d test runs", m.assignmentID)))
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString(m.spinner.View() + " loading...\n")
	case m.snapshot.err != nil:
		b.WriteString(errorStyle.Render("error: "+m.snapshot.err.Error()) + "\n")
	case len(m.snapshot.runs) == 0:
		b.WriteString("No test runs in progress.\n")
	default:
		b.WriteString(m.table() + "\n")
	}

	if m.loaded {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("updated %s  %s", m.snapshot.at.Format(time.TimeOnly), m.spinner.View())))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("r refresh, q quit") + "\n")
	return b.String()
}

func (m watchModel) table() string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "REMOTE ID", "GROUPING", "STATUS", "AUTOTESTER").
		StyleFunc(func(row, col int) lipgloss.Style {
			// row 0 is the header, data rows start at 1
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range m.snapshot.runs {
		remote := m.snapshot.statuses[r.AutotestTestID]
		if remote == "" {
			remote = "-"
		}
		t.Row(
			fmt.Sprint(r.ID),
			fmt.Sprint(r.AutotestTestID),
			fmt.Sprint(r.GroupingID),
			string(r.Status),
			remote,
		)
	}
	return t.Render()
}
