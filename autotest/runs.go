package autotest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/testrun"
)

type RunRequest struct {
	AssignmentID int64
	GroupIDs     []int64
	RoleID       int64
	Collected    bool
	// BatchID is set when the run belongs to a test batch.
	BatchID *int64
}

type runTestsRequest struct {
	FileURLs            []string `json:"file_urls"`
	Categories          []string `json:"categories"`
	RequestHighPriority bool     `json:"request_high_priority"`
}

// RunTests asks the autotester to test each group and records one
// in_progress TestRun per group.
func (c *Client) RunTests(ctx context.Context, r RunRequest) ([]testrun.TestRun, error) {
	t, err := c.resolve(ctx, r.AssignmentID, true)
	if err != nil {
		return nil, err
	}
	role, err := c.courses.GetRole(ctx, r.RoleID)
	if err != nil {
		return nil, err
	}
	groupings, err := c.courses.ListGroupings(ctx, r.AssignmentID, r.GroupIDs)
	if err != nil {
		return nil, err
	}

	fileURLs := make([]string, 0, len(r.GroupIDs))
	for _, groupID := range r.GroupIDs {
		fileURLs = append(fileURLs,
			c.SubmissionFilesURL(t.assignment.CourseID, r.AssignmentID, groupID, r.Collected))
	}
	res, err := c.sendChecked(ctx, http.MethodPut, t.settingsURL("test"), t.setting.APIKey, runTestsRequest{
		FileURLs:            fileURLs,
		Categories:          []string{testrun.CategoryForRole(role.Type)},
		RequestHighPriority: r.BatchID == nil && role.IsStudent(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit tests: %w", err)
	}

	var parsed struct {
		TestIDs []int64 `json:"test_ids"`
	}
	if err := decode(res, &parsed); err != nil {
		return nil, err
	}
	testIDs := make(map[int64]int64, len(r.GroupIDs))
	for i, groupID := range r.GroupIDs {
		if i < len(parsed.TestIDs) {
			testIDs[groupID] = parsed.TestIDs[i]
		}
	}

	runs := make([]testrun.TestRun, 0, len(groupings))
	for _, g := range groupings {
		testID, ok := testIDs[g.GroupID]
		if !ok {
			logger.FromContext(ctx).Warn("autotester returned no test id for group", "group_id", g.GroupID)
			continue
		}
		run := testrun.TestRun{
			RoleID:         role.ID,
			TestBatchID:    r.BatchID,
			GroupingID:     g.ID,
			AssignmentID:   r.AssignmentID,
			AutotestTestID: testID,
			Status:         testrun.InProgress,
		}
		if r.Collected {
			run.SubmissionID = g.CurrentSubmissionID
		} else {
			rev, err := c.revisions.LatestRevision(ctx, g.ID)
			if err != nil {
				return runs, fmt.Errorf("failed to get latest revision of grouping %d: %w", g.ID, err)
			}
			run.RevisionIdentifier = &rev
		}
		created, err := c.ledger.Create(ctx, run)
		if err != nil {
			return runs, fmt.Errorf("failed to record test run: %w", err)
		}
		runs = append(runs, created)
	}
	return runs, nil
}

type testIDsRequest struct {
	TestIDs []int64 `json:"test_ids"`
}

func remoteIDs(runs []testrun.TestRun) []int64 {
	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.AutotestTestID)
	}
	return ids
}

// CancelTests cancels enqueued tests. Tests already running are not
// stopped by the autotester; their runs are still marked cancelled.
func (c *Client) CancelTests(ctx context.Context, assignmentID int64, runs []testrun.TestRun) error {
	t, err := c.resolve(ctx, assignmentID, true)
	if err != nil {
		return err
	}
	_, err = c.sendChecked(ctx, http.MethodDelete, t.settingsURL("tests", "cancel"), t.setting.APIKey,
		testIDsRequest{TestIDs: remoteIDs(runs)})
	if err != nil {
		return fmt.Errorf("failed to cancel tests: %w", err)
	}
	for _, run := range runs {
		if err := c.ledger.Cancel(ctx, run.ID); err != nil {
			return fmt.Errorf("failed to cancel test run %d: %w", run.ID, err)
		}
	}
	return nil
}

// Statuses maps each remote test id to the autotester's status string.
func (c *Client) Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error) {
	t, err := c.resolve(ctx, assignmentID, true)
	if err != nil {
		return nil, err
	}
	res, err := c.sendChecked(ctx, http.MethodGet, t.settingsURL("tests", "status"), t.setting.APIKey,
		testIDsRequest{TestIDs: remoteIDs(runs)})
	if err != nil {
		return nil, fmt.Errorf("failed to get test statuses: %w", err)
	}
	statuses := map[int64]string{}
	if err := decode(res, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Results fetches the results of one run and stores them with feedback
// files inlined. The autotester discards results once fetched. Failures
// other than rate limiting are stored on the run and not returned.
func (c *Client) Results(ctx context.Context, assignmentID int64, run testrun.TestRun) error {
	t, err := c.resolve(ctx, assignmentID, true)
	if err != nil {
		return err
	}
	ctx = logger.WithTestRun(ctx, run.ID, run.AutotestTestID)
	testID := strconv.FormatInt(run.AutotestTestID, 10)

	res, err := c.send(ctx, http.MethodGet, t.settingsURL("test", testID), t.setting.APIKey, nil)
	if err != nil {
		return err
	}
	if res.status == http.StatusTooManyRequests {
		return ErrRateLimitExceeded
	}
	if !res.ok() {
		logger.FromContext(ctx).Warn("autotester failed to return results", "status", res.status)
		return c.ledger.Failure(ctx, run.ID, string(res.body))
	}

	results := map[string]any{}
	if err := decode(res, &results); err != nil {
		return c.ledger.Failure(ctx, run.ID, string(res.body))
	}
	if err := c.inlineFeedback(ctx, t, testID, results); err != nil {
		return err
	}
	return c.ledger.UpdateResults(ctx, run.ID, results)
}

func (c *Client) inlineFeedback(ctx context.Context, t target, testID string, results map[string]any) error {
	groups, _ := results["test_groups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		feedback, ok := group["feedback"].(map[string]any)
		if !ok || feedback["id"] == nil {
			continue
		}
		feedbackID := fmt.Sprint(feedback["id"])
		res, err := c.sendChecked(ctx, http.MethodGet,
			t.settingsURL("test", testID, "feedback", feedbackID), t.setting.APIKey, nil)
		if err != nil {
			return fmt.Errorf("failed to fetch feedback %s: %w", feedbackID, err)
		}
		feedback["content"] = string(res.body)
		if _, ok := feedback["content_type"]; !ok {
			feedback["content_type"] = mimetype.Detect(res.body).String()
		}
	}
	return nil
}

// IsRetryable reports whether err only means "try again later".
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// CancelRuns cancels the given runs of one assignment by local id. Runs of
// other assignments are ignored.
func (c *Client) CancelRuns(ctx context.Context, assignmentID int64, runIDs []int64) error {
	runs, err := c.ledger.ListByIDs(ctx, runIDs)
	if err != nil {
		return err
	}
	own := runs[:0]
	for _, r := range runs {
		if r.AssignmentID == assignmentID {
			own = append(own, r)
		}
	}
	if len(own) == 0 {
		return nil
	}
	return c.CancelTests(ctx, assignmentID, own)
}
