package athttp

import (
	"io"
	"net/http"

	"github.com/klauspost/compress/zip"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/httpjson"
)

func (s *HttpServer) getTestFiles(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	names, err := s.deps.TestFiles.List(r.Context(), a.ID)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := s.copyTestFile(r, zw, a.ID, name); err != nil {
			// Headers are gone; the autotester sees a truncated archive.
			logger.Error("failed to stream test file", "file", name, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		logger.Error("failed to finish test files archive", "error", err)
	}
}

func (s *HttpServer) copyTestFile(r *http.Request, zw *zip.Writer, assignmentID int64, name string) error {
	rc, err := s.deps.TestFiles.Open(r.Context(), assignmentID, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, rc)
	return err
}

func (s *HttpServer) getSubmissionFiles(w http.ResponseWriter, r *http.Request) {
	logger := logFrom(r)
	a, err := s.assignment(r)
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	groupings, err := s.deps.Courses.ListGroupings(r.Context(), a.ID, []int64{groupID})
	if err != nil {
		httpjson.HandleError(logger, w, err)
		return
	}
	if len(groupings) == 0 {
		httpjson.HandleError(logger, w, course.ErrGroupingNotFound())
		return
	}
	collected := r.URL.Query().Get("collected") == "true"

	w.Header().Set("Content-Type", "application/zip")
	zw := zip.NewWriter(w)
	err = s.deps.GroupFiles.Walk(r.Context(), groupings[0].ID, collected, func(name string, src io.Reader) error {
		dst, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		logger.Error("failed to stream submission files", "group_id", groupID, "error", err)
		return
	}
	if err := zw.Close(); err != nil {
		logger.Error("failed to finish submission files archive", "error", err)
	}
}
