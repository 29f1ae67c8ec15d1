package autotest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/credstore"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
)

const AuthTypeApiKey = "ApiKey"

type Config struct {
	// BaseURL is where the autotester reaches our callbacks, including the
	// relative url root.
	BaseURL            string
	InstallationSecret string
}

// Credentials hands out the api key the autotester uses when calling back.
type Credentials interface {
	GetOrCreate(ctx context.Context) (credstore.Credential, error)
	ServiceAccountName() string
}

// RevisionSource reports the latest repository revision of a grouping.
type RevisionSource interface {
	LatestRevision(ctx context.Context, groupingID int64) (string, error)
}

type Client struct {
	cfg       Config
	http      *http.Client
	courses   course.Repo
	creds     Credentials
	ledger    testrun.Ledger
	specs     specdoc.Store
	files     specdoc.TestFiles
	revisions RevisionSource
	tr        *translations.Translator
}

type Deps struct {
	Courses   course.Repo
	Creds     Credentials
	Ledger    testrun.Ledger
	Specs     specdoc.Store
	Files     specdoc.TestFiles
	Revisions RevisionSource
	Tr        *translations.Translator
	// HTTP defaults to http.DefaultClient.
	HTTP *http.Client
}

func NewClient(cfg Config, deps Deps) *Client {
	httpClient := deps.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		courses:   deps.Courses,
		creds:     deps.Creds,
		ledger:    deps.Ledger,
		specs:     deps.Specs,
		files:     deps.Files,
		revisions: deps.Revisions,
		tr:        deps.Tr,
	}
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// send performs one request. A non-2xx status is not an error here.
func (c *Client) send(ctx context.Context, method, url, apiKey string, payload any) (response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return response{}, fmt.Errorf("failed to build request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Api-Key", apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("failed to %s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.FromContext(ctx).Debug("autotester request",
		"method", method, "url", url, "status", res.StatusCode)
	return response{status: res.StatusCode, body: resBody}, nil
}

// sendChecked is send with every non-2xx status turned into an error.
func (c *Client) sendChecked(ctx context.Context, method, url, apiKey string, payload any) (response, error) {
	res, err := c.send(ctx, method, url, apiKey, payload)
	if err != nil {
		return response{}, err
	}
	if err := statusError(res); err != nil {
		return response{}, err
	}
	return res, nil
}

func statusError(res response) error {
	if res.ok() {
		return nil
	}
	switch res.status {
	case http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	var parsed struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(res.body, &parsed); err == nil && parsed.Message != nil {
		return &RemoteError{StatusCode: res.status, Message: *parsed.Message}
	}
	return &RemoteError{StatusCode: res.status, Message: string(res.body)}
}

func decode(res response, out any) error {
	dec := json.NewDecoder(bytes.NewReader(res.body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode autotester response: %w", err)
	}
	return nil
}

func join(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}

// target is everything needed to address one assignment on the autotester.
type target struct {
	assignment course.Assignment
	setting    course.AutotestSetting
	settingsID int64
}

func (t target) settingsURL(parts ...string) string {
	return join(t.setting.URL, append([]string{"settings", fmt.Sprint(t.settingsID)}, parts...)...)
}

// resolve loads the assignment and its course's autotester. When
// needSettings is set the assignment must already have a settings id.
func (c *Client) resolve(ctx context.Context, assignmentID int64, needSettings bool) (target, error) {
	assignment, err := c.courses.GetAssignment(ctx, assignmentID)
	if err != nil {
		return target{}, err
	}
	setting, err := c.courses.GetAutotestSetting(ctx, assignment.CourseID)
	if err != nil {
		return target{}, err
	}
	t := target{assignment: assignment, setting: setting}
	if assignment.AutotestSettingsID != nil {
		t.settingsID = *assignment.AutotestSettingsID
	} else if needSettings {
		return target{}, ErrSettingsNotConfigured(c.tr)
	}
	return t, nil
}

func (c *Client) callbackBase(courseID, assignmentID int64) string {
	return fmt.Sprintf("%s/api/courses/%d/assignments/%d",
		strings.TrimRight(c.cfg.BaseURL, "/"), courseID, assignmentID)
}

// TestFilesURL is where the autotester downloads an assignment's test files.
func (c *Client) TestFilesURL(courseID, assignmentID int64) string {
	return c.callbackBase(courseID, assignmentID) + "/test_files"
}

// SubmissionFilesURL is where the autotester downloads one group's files.
func (c *Client) SubmissionFilesURL(courseID, assignmentID, groupID int64, collected bool) string {
	param := ""
	if collected {
		param = "collected=true"
	}
	return fmt.Sprintf("%s/groups/%d/submission_files?%s",
		c.callbackBase(courseID, assignmentID), groupID, param)
}

var errMissingField = errors.New("autotester response is missing a field")
