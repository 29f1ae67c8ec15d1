package autotest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/specdoc"
)

type registerRequest struct {
	UserName    string `json:"user_name"`
	AuthType    string `json:"auth_type"`
	Credentials string `json:"credentials"`
}

type credentialsRequest struct {
	AuthType    string `json:"auth_type"`
	Credentials string `json:"credentials"`
}

// Register introduces this installation to the autotester at url and stores
// the api key it hands back as the course's autotest setting.
func (c *Client) Register(ctx context.Context, courseID int64, url string) (string, error) {
	cred, err := c.creds.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}

	res, err := c.sendChecked(ctx, http.MethodPost, join(url, "register"), c.cfg.InstallationSecret,
		registerRequest{
			UserName:    cred.ServiceAccountName,
			AuthType:    AuthTypeApiKey,
			Credentials: cred.APIKey,
		})
	if err != nil {
		return "", fmt.Errorf("failed to register with autotester: %w", err)
	}

	var parsed struct {
		APIKey string `json:"api_key"`
	}
	if err := decode(res, &parsed); err != nil {
		return "", err
	}
	if parsed.APIKey == "" {
		return "", fmt.Errorf("%w: api_key", errMissingField)
	}

	err = c.courses.SaveAutotestSetting(ctx, course.AutotestSetting{
		CourseID: courseID,
		URL:      url,
		APIKey:   parsed.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save autotest setting: %w", err)
	}
	logger.FromContext(ctx).Info("registered with autotester", "course_id", courseID, "url", url)
	return parsed.APIKey, nil
}

// UpdateCredentials pushes our current api key to the course's autotester.
func (c *Client) UpdateCredentials(ctx context.Context, courseID int64) error {
	setting, err := c.courses.GetAutotestSetting(ctx, courseID)
	if err != nil {
		return err
	}
	cred, err := c.creds.GetOrCreate(ctx)
	if err != nil {
		return err
	}
	_, err = c.sendChecked(ctx, http.MethodPut, join(setting.URL, "reset_credentials"), setting.APIKey,
		credentialsRequest{AuthType: AuthTypeApiKey, Credentials: cred.APIKey})
	if err != nil {
		return fmt.Errorf("failed to update autotester credentials: %w", err)
	}
	return nil
}

func (c *Client) GetSchema(ctx context.Context, courseID int64) (specdoc.Document, error) {
	setting, err := c.courses.GetAutotestSetting(ctx, courseID)
	if err != nil {
		return nil, err
	}
	res, err := c.sendChecked(ctx, http.MethodGet, join(setting.URL, "schema"), setting.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get autotester schema: %w", err)
	}
	doc, err := specdoc.Parse(res.body)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type settingsRequest struct {
	Settings specdoc.Document `json:"settings"`
	FileURL  string           `json:"file_url"`
	Files    []string         `json:"files"`
}

// UpdateSettings pushes the stored spec document and the test file list.
// The first push creates the remote settings; later pushes replace them.
func (c *Client) UpdateSettings(ctx context.Context, assignmentID int64) (int64, error) {
	t, err := c.resolve(ctx, assignmentID, false)
	if err != nil {
		return 0, err
	}
	doc, err := c.specs.Load(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	files, err := c.files.List(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	if files == nil {
		files = []string{}
	}

	method, url := http.MethodPost, join(t.setting.URL, "settings")
	if t.assignment.AutotestSettingsID != nil {
		method, url = http.MethodPut, t.settingsURL()
	}
	res, err := c.sendChecked(ctx, method, url, t.setting.APIKey, settingsRequest{
		Settings: doc,
		FileURL:  c.TestFilesURL(t.assignment.CourseID, assignmentID),
		Files:    files,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update autotester settings: %w", err)
	}

	var parsed struct {
		SettingsID *int64 `json:"settings_id"`
	}
	if err := decode(res, &parsed); err != nil {
		return 0, err
	}
	if parsed.SettingsID == nil {
		return 0, fmt.Errorf("%w: settings_id", errMissingField)
	}
	if err := c.courses.SetAutotestSettingsID(ctx, assignmentID, *parsed.SettingsID); err != nil {
		return 0, fmt.Errorf("failed to store settings id: %w", err)
	}
	logger.FromContext(ctx).Info("pushed autotest settings",
		"assignment_id", assignmentID, "settings_id", *parsed.SettingsID)
	return *parsed.SettingsID, nil
}
