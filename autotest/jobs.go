package autotest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/programme-lv/autotest/jobs"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testgroup"
)

const (
	JobSpecs  = "autotest_specs"
	JobRun    = "autotest_run"
	JobCancel = "autotest_cancel"
)

type SpecsPayload struct {
	AssignmentID int64            `json:"assignment_id"`
	Specs        specdoc.Document `json:"specs"`
}

type RunPayload struct {
	AssignmentID int64   `json:"assignment_id"`
	GroupIDs     []int64 `json:"group_ids"`
	RoleID       int64   `json:"role_id"`
	Collected    bool    `json:"collected"`
	BatchID      *int64  `json:"batch_id,omitempty"`
}

type CancelPayload struct {
	AssignmentID int64   `json:"assignment_id"`
	TestRunIDs   []int64 `json:"test_run_ids"`
}

// RegisterJobs wires the background units of work that talk to the
// autotester. None of them run on the request path.
func RegisterJobs(runner *jobs.Runner, client *Client, reconciler *testgroup.Reconciler) {
	runner.Register(JobSpecs, func(ctx context.Context, t *jobs.Tracker, raw json.RawMessage) error {
		var p SpecsPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		ctx = logger.WithAssignment(ctx, p.AssignmentID)
		if err := t.SetTotal(ctx, 2); err != nil {
			return err
		}

		warnings, err := reconciler.UpdateFromSpecs(ctx, p.AssignmentID, p.Specs)
		for _, w := range warnings {
			if werr := t.Warn(ctx, w); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		if err := t.Increment(ctx); err != nil {
			return err
		}

		if _, err := client.UpdateSettings(ctx, p.AssignmentID); err != nil {
			return err
		}
		return t.Increment(ctx)
	})

	runner.Register(JobRun, func(ctx context.Context, t *jobs.Tracker, raw json.RawMessage) error {
		var p RunPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		ctx = logger.WithAssignment(ctx, p.AssignmentID)
		if err := t.SetTotal(ctx, len(p.GroupIDs)); err != nil {
			return err
		}
		runs, err := client.RunTests(ctx, RunRequest{
			AssignmentID: p.AssignmentID,
			GroupIDs:     p.GroupIDs,
			RoleID:       p.RoleID,
			Collected:    p.Collected,
			BatchID:      p.BatchID,
		})
		for range runs {
			if err := t.Increment(ctx); err != nil {
				return err
			}
		}
		return err
	})

	runner.Register(JobCancel, func(ctx context.Context, t *jobs.Tracker, raw json.RawMessage) error {
		var p CancelPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		ctx = logger.WithAssignment(ctx, p.AssignmentID)
		if err := t.SetTotal(ctx, 1); err != nil {
			return err
		}
		if err := client.CancelRuns(ctx, p.AssignmentID, p.TestRunIDs); err != nil {
			return err
		}
		return t.Increment(ctx)
	})
}

// decodePayload keeps numbers inside spec documents as json.Number, the
// same way specdoc.Parse reads them.
func decodePayload(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}
