package athttp_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/programme-lv/autotest/athttp"
	"github.com/programme-lv/autotest/autotest"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/credstore"
	"github.com/programme-lv/autotest/groupfiles"
	"github.com/programme-lv/autotest/jobs"
	"github.com/programme-lv/autotest/schema"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jwtKey = []byte("test-secret")

type stubAutotester struct {
	schema   specdoc.Document
	statuses map[int64]string
	err      error
}

func (s *stubAutotester) GetSchema(ctx context.Context, courseID int64) (specdoc.Document, error) {
	return s.schema, s.err
}

func (s *stubAutotester) Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error) {
	return s.statuses, s.err
}

type env struct {
	server    *httptest.Server
	creds     *credstore.Store
	ledger    *testrun.InMemLedger
	jobs      *jobs.Runner
	remote    *stubAutotester
	specsRoot string
	groupRoot string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tr, err := translations.New("en")
	require.NoError(t, err)

	courses := course.NewInMemRepo()
	courses.PutAssignment(course.Assignment{ID: 3, CourseID: 7})
	courses.PutCriterion(course.Criterion{ID: 40, AssignmentID: 3, Type: "FlexibleCriterion", Name: "style"})
	courses.PutGrouping(course.Grouping{ID: 21, GroupID: 11, AssignmentID: 3})
	courses.PutGrouping(course.Grouping{ID: 22, GroupID: 12, AssignmentID: 3})
	courses.PutMembership(student.ID, 11)

	specsRoot, groupRoot := t.TempDir(), t.TempDir()
	specs := specdoc.NewFileStore(specsRoot)
	creds := credstore.NewStore(credstore.NewInMemRepo(), "proglv_test", 3)
	ledger := testrun.NewInMemLedger()
	remote := &stubAutotester{schema: specdoc.Document{"type": "object"}}

	runner := jobs.NewRunner(jobs.NewChanQueue(16), jobs.NewInMemStore(), 1, slog.Default())
	noop := func(ctx context.Context, tr *jobs.Tracker, payload json.RawMessage) error { return nil }
	for _, name := range []string{autotest.JobSpecs, autotest.JobRun, autotest.JobCancel} {
		runner.Register(name, noop)
	}

	srv, err := athttp.NewHttpServer(athttp.Options{
		JwtKey:         jwtKey,
		AllowedOrigins: []string{"http://localhost:3000"},
		LogLevel:       slog.LevelError,
		Env:            "test",
	}, athttp.Deps{
		Courses:    courses,
		Creds:      creds,
		Autotester: remote,
		Composer:   schema.NewComposer(courses, specs, tr),
		Ledger:     ledger,
		Jobs:       runner,
		TestFiles:  specs,
		GroupFiles: groupfiles.NewDir(groupRoot),
		Tr:         tr,
	})
	require.NoError(t, err)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	return &env{
		server: server, creds: creds, ledger: ledger, jobs: runner, remote: remote,
		specsRoot: specsRoot, groupRoot: groupRoot,
	}
}

func token(t *testing.T, role course.Role) string {
	t.Helper()
	tok, err := athttp.GenerateJWT("someone", role, jwtKey, time.Hour)
	require.NoError(t, err)
	return tok
}

var (
	instructor = course.Role{ID: 1, Type: course.RoleInstructor}
	student    = course.Role{ID: 2, Type: course.RoleStudent}
)

func (e *env) do(t *testing.T, method, path, auth string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	res, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	content, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, content
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Code   string          `json:"code"`
	Msg    string          `json:"message"`
}

func parse(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func (e *env) apiKey(t *testing.T) string {
	t.Helper()
	cred, err := e.creds.GetOrCreate(context.Background())
	require.NoError(t, err)
	return "ApiKey " + cred.APIKey
}

func unzip(t *testing.T, body []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = string(content)
	}
	return files
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTestFilesCallback(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.specsRoot, "3", "files", "tests", "test_a.py"), "def test(): pass")

	res, body := e.do(t, http.MethodGet, "/api/courses/7/assignments/3/test_files", e.apiKey(t), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
	assert.Equal(t, map[string]string{"tests/test_a.py": "def test(): pass"}, unzip(t, body))
}

func TestCallbacksRequireApiKey(t *testing.T) {
	e := newEnv(t)
	for _, auth := range []string{"", "ApiKey wrong", "Bearer " + token(t, instructor)} {
		res, body := e.do(t, http.MethodGet, "/api/courses/7/assignments/3/test_files", auth, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, auth)
		assert.Equal(t, "unauthorized", parse(t, body).Code)
	}
}

func TestSubmissionFilesCallback(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.groupRoot, "21", "latest", "main.py"), "latest")
	writeFile(t, filepath.Join(e.groupRoot, "21", "collected", "main.py"), "collected")

	res, body := e.do(t, http.MethodGet, "/api/courses/7/assignments/3/groups/11/submission_files?collected=true", e.apiKey(t), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"main.py": "collected"}, unzip(t, body))

	res, body = e.do(t, http.MethodGet, "/api/courses/7/assignments/3/groups/11/submission_files?", e.apiKey(t), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"main.py": "latest"}, unzip(t, body))

	res, _ = e.do(t, http.MethodGet, "/api/courses/7/assignments/3/groups/99/submission_files", e.apiKey(t), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestInstructorRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	res, _ := e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/schema", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/schema", "Bearer not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body := e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/schema", "Bearer "+token(t, student), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", parse(t, body).Code)
}

func TestGetSchema(t *testing.T) {
	e := newEnv(t)
	writeFile(t, filepath.Join(e.specsRoot, "3", "files", "a.txt"), "a")

	res, body := e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/schema", "Bearer "+token(t, instructor), nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(parse(t, body).Data, &doc))
	defs := doc["definitions"].(map[string]any)
	assert.Equal(t, []any{"a.txt"}, defs["files_list"].(map[string]any)["enum"])
	criterion := defs["extra_group_data"].(map[string]any)["properties"].(map[string]any)["criterion"].(map[string]any)
	assert.Equal(t, []any{"FlexibleCriterion:style"}, criterion["enum"])
}

func TestGetSchemaUpstreamFailure(t *testing.T) {
	e := newEnv(t)
	e.remote.err = &autotest.RemoteError{StatusCode: 500, Message: "boom"}

	res, body := e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/schema", "Bearer "+token(t, instructor), nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, athttp.ErrCodeAutotesterFailed, parse(t, body).Code)
}

func TestWrongCourseIsNotFound(t *testing.T) {
	e := newEnv(t)
	res, _ := e.do(t, http.MethodGet, "/courses/8/assignments/3/autotest/schema", "Bearer "+token(t, instructor), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPutSpecsEnqueuesJob(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodPut, "/courses/7/assignments/3/autotest/specs", "Bearer "+token(t, instructor),
		map[string]any{"testers": []any{}})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(body))

	var job jobs.Job
	require.NoError(t, json.Unmarshal(parse(t, body).Data, &job))
	assert.Equal(t, autotest.JobSpecs, job.Name)
	assert.Equal(t, jobs.Queued, job.Status)

	res, body = e.do(t, http.MethodGet, "/jobs/"+job.ID.String(), "Bearer "+token(t, instructor), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), job.ID.String())
}

func TestPutSpecsRejectsNonObject(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodPut, "/courses/7/assignments/3/autotest/specs", "Bearer "+token(t, instructor), []int{1})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_request", parse(t, body).Code)
}

func TestCreateRuns(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, instructor),
		map[string]any{"group_ids": []int64{11, 12}, "collected": true})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(body))

	res, body = e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, instructor),
		map[string]any{"collected": true})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "GroupIDs is a required field", parse(t, body).Msg)

	res, _ = e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, student),
		map[string]any{"group_ids": []int64{11, 12}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, student),
		map[string]any{"group_ids": []int64{11}})
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
}

func TestStudentCannotRunAnotherGroup(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, student),
		map[string]any{"group_ids": []int64{12}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", parse(t, body).Code)

	// staff are not limited to their own groups
	res, _ = e.do(t, http.MethodPost, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, instructor),
		map[string]any{"group_ids": []int64{12}})
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
}

func TestCancelRuns(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodDelete, "/courses/7/assignments/3/autotest/runs", "Bearer "+token(t, instructor),
		map[string]any{"test_run_ids": []int64{1}})
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(body))

	var job jobs.Job
	require.NoError(t, json.Unmarshal(parse(t, body).Data, &job))
	assert.Equal(t, autotest.JobCancel, job.Name)
}

func TestRunStatuses(t *testing.T) {
	e := newEnv(t)
	run, err := e.ledger.Create(context.Background(), testrun.TestRun{
		AssignmentID: 3, GroupingID: 21, AutotestTestID: 901, Status: testrun.InProgress,
	})
	require.NoError(t, err)
	e.remote.statuses = map[int64]string{901: "started"}

	res, body := e.do(t, http.MethodGet, "/courses/7/assignments/3/autotest/runs/status", "Bearer "+token(t, instructor), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	data := string(parse(t, body).Data)
	assert.True(t, strings.Contains(data, `"remote_status":"started"`), data)
	assert.True(t, strings.Contains(data, `"test_run_id":`), data)
	assert.Equal(t, int64(1), run.ID)
}

func TestGetJobNotFound(t *testing.T) {
	e := newEnv(t)
	res, _ := e.do(t, http.MethodGet, "/jobs/8a3c6d0e-1a43-4c6e-9e57-3d7a1f0c2b11", "Bearer "+token(t, instructor), nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = e.do(t, http.MethodGet, "/jobs/nope", "Bearer "+token(t, instructor), nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
