package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/programme-lv/autotest/testrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuns []testrun.TestRun

func (s stubRuns) ListInProgress(ctx context.Context, assignmentID int64) ([]testrun.TestRun, error) {
	return s, nil
}

type stubStatuses struct {
	statuses map[int64]string
	err      error
}

func (s stubStatuses) Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error) {
	return s.statuses, s.err
}

func TestWatchRendersRuns(t *testing.T) {
	runs := stubRuns{{ID: 1, AutotestTestID: 901, GroupingID: 21, Status: testrun.InProgress}}
	m := newWatchModel(3, runs, stubStatuses{statuses: map[int64]string{901: "started"}})
	assert.Contains(t, m.View(), "loading")

	msg := m.fetch()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	view := next.View()
	assert.Contains(t, view, "Assignment 3 test runs")
	assert.Contains(t, view, "901")
	assert.Contains(t, view, "started")
	assert.Contains(t, view, "in_progress")
}

func TestWatchTableHasHeaderAndEveryRun(t *testing.T) {
	runs := stubRuns{
		{ID: 1, AutotestTestID: 901, GroupingID: 21, Status: testrun.InProgress},
		{ID: 2, AutotestTestID: 902, GroupingID: 22, Status: testrun.InProgress},
	}
	m := newWatchModel(3, runs, stubStatuses{statuses: map[int64]string{901: "started"}})
	next, _ := m.Update(m.fetch())

	out := next.(watchModel).table()
	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 3)
	header := strings.Index(out, "REMOTE ID")
	first := strings.Index(out, "901")
	second := strings.Index(out, "902")
	require.NotEqual(t, -1, header)
	assert.Less(t, header, first)
	assert.Less(t, first, second)
	// a run without a remote status shows a dash
	assert.Contains(t, out, "-")
}

func TestWatchShowsErrors(t *testing.T) {
	runs := stubRuns{{ID: 1, AutotestTestID: 901}}
	m := newWatchModel(3, runs, stubStatuses{err: errors.New("autotester unreachable")})

	next, _ := m.Update(m.fetch())
	assert.Contains(t, next.View(), "autotester unreachable")
}

func TestWatchEmptyAndQuit(t *testing.T) {
	m := newWatchModel(3, stubRuns{}, stubStatuses{})
	next, _ := m.Update(m.fetch())
	assert.Contains(t, next.View(), "No test runs in progress.")

	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
