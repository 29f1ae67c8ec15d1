package athttp

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/programme-lv/autotest/autotest"
	"github.com/programme-lv/autotest/httpjson"
	"github.com/programme-lv/autotest/jobs"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/srvcerror"
	"github.com/programme-lv/autotest/testrun"
)

func (s *HttpServer) getSchema(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	if _, err := requireStaff(r); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	static, err := s.deps.Autotester.GetSchema(r.Context(), a.CourseID)
	if err != nil {
		httpjson.HandleError(logger, w, upstream(err))
		return
	}
	composed, err := s.deps.Composer.Compose(r.Context(), static, a.ID, nil)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	httpjson.WriteSuccessJson(w, composed)
}

func (s *HttpServer) putSpecs(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	if _, err := requireStaff(r); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	doc, err := specdoc.Parse(body)
	if err != nil {
		httpjson.HandleError(logger, w, srvcerror.ErrInvalidRequest("spec document is not a JSON object").SetDebug(err))
		return
	}

	job, err := s.deps.Jobs.Enqueue(r.Context(), autotest.JobSpecs, autotest.SpecsPayload{
		AssignmentID: a.ID,
		Specs:        doc,
	})
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	httpjson.WriteAcceptedJson(w, job)
}

type createRunsRequest struct {
	GroupIDs  []int64 `json:"group_ids" validate:"required,min=1,dive,gt=0"`
	Collected bool    `json:"collected"`
	BatchID   *int64  `json:"batch_id"`
}

func (s *HttpServer) createRuns(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	claims := claimsFromContext(r.Context())
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	var req createRunsRequest
	if err := s.decodeBody(r, &req); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	// Students may only test their own single group, never in a batch.
	if claims.Role().IsStudent() {
		if len(req.GroupIDs) != 1 || req.BatchID != nil {
			httpjson.HandleError(logger, w, srvcerror.ErrForbidden())
			return
		}
		member, err := s.deps.Courses.IsMember(r.Context(), claims.RoleID, req.GroupIDs[0])
		if err != nil {
			httpjson.HandleError(logger, w, err)
			return
		}
		if !member {
			httpjson.HandleError(logger, w, srvcerror.ErrForbidden())
			return
		}
	}

	job, err := s.deps.Jobs.Enqueue(r.Context(), autotest.JobRun, autotest.RunPayload{
		AssignmentID: a.ID,
		GroupIDs:     req.GroupIDs,
		RoleID:       claims.RoleID,
		Collected:    req.Collected,
		BatchID:      req.BatchID,
	})
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	httpjson.WriteAcceptedJson(w, job)
}

type cancelRunsRequest struct {
	TestRunIDs []int64 `json:"test_run_ids" validate:"required,min=1,dive,gt=0"`
}

func (s *HttpServer) cancelRuns(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	if _, err := requireStaff(r); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	var req cancelRunsRequest
	if err := s.decodeBody(r, &req); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	job, err := s.deps.Jobs.Enqueue(r.Context(), autotest.JobCancel, autotest.CancelPayload{
		AssignmentID: a.ID,
		TestRunIDs:   req.TestRunIDs,
	})
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	httpjson.WriteAcceptedJson(w, job)
}

type runStatus struct {
	TestRunID      int64          `json:"test_run_id"`
	AutotestTestID int64          `json:"autotest_test_id"`
	GroupingID     int64          `json:"grouping_id"`
	Status         testrun.Status `json:"status"`
	RemoteStatus   string         `json:"remote_status"`
}

func (s *HttpServer) runStatuses(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	if _, err := requireStaff(r); err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	runs, err := s.deps.Ledger.ListInProgress(r.Context(), a.ID)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	res := make([]runStatus, 0, len(runs))
	if len(runs) > 0 {
		remote, err := s.deps.Autotester.Statuses(r.Context(), a.ID, runs)
		if err != nil {
			httpjson.HandleError(logger, w, upstream(err))
			return
		}
		for _, run := range runs {
			res = append(res, runStatus{
				TestRunID:      run.ID,
				AutotestTestID: run.AutotestTestID,
				GroupingID:     run.GroupingID,
				Status:         run.Status,
				RemoteStatus:   remote[run.AutotestTestID],
			})
		}
	}
	httpjson.WriteSuccessJson(w, res)
}

func (s *HttpServer) getJob(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		httpjson.HandleError(logger, w, srvcerror.ErrInvalidRequest("invalid job id"))
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			err = srvcerror.ErrNotFound("job").SetDebug(err)
		}
		httpjson.HandleError(logger, w, err)
		return
	}
	httpjson.WriteSuccessJson(w, job)
}

const ErrCodeAutotesterFailed = "autotester_failed"

// upstream turns autotester failures into a 502 unless they already carry
// a user facing message.
func upstream(err error) error {
	var srvcErr *srvcerror.Error
	if errors.As(err, &srvcErr) {
		return err
	}
	return srvcerror.New(
		ErrCodeAutotesterFailed,
		"the autotester could not handle the request",
	).SetHttpStatusCode(http.StatusBadGateway).SetDebug(err)
}
