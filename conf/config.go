package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type PostgresConfig struct {
	Host               string `toml:"host" validate:"required"`
	Port               int    `toml:"port" validate:"required"`
	User               string `toml:"user" validate:"required"`
	Password           string `toml:"password"`
	PasswordSecretName string `toml:"password_secret_name"`
	DB                 string `toml:"db" validate:"required"`
	SSLMode            string `toml:"sslmode"`
}

// Config is passed to every component at construction; nothing reads
// process-wide settings after Load returns.
type Config struct {
	// InstanceName identifies this installation to the autotester.
	InstanceName string `toml:"instance_name" validate:"required"`
	// PublicAddress is how the autotester reaches us, e.g. https://grading.example.com
	PublicAddress   string `toml:"public_address" validate:"required,url"`
	RelativeURLRoot string `toml:"relative_url_root"`
	// InstallationSecret authenticates the initial register call.
	InstallationSecret string `toml:"installation_secret"`

	ListenAddr string `toml:"listen_addr" validate:"required"`
	JwtKey     string `toml:"jwt_key" validate:"required"`
	Locale     string `toml:"locale" validate:"oneof=en lv"`
	LogLevel   string `toml:"log_level"`

	SpecsDir    string `toml:"specs_dir" validate:"required"`
	SpecsBucket string `toml:"specs_bucket"`
	AwsRegion   string `toml:"aws_region"`
	JobQueueURL string `toml:"job_queue_url"`
	JobTable    string `toml:"job_table"`

	// GroupFilesDir holds per grouping working copies, see package groupfiles.
	GroupFilesDir  string   `toml:"group_files_dir" validate:"required"`
	AllowedOrigins []string `toml:"allowed_origins"`

	PollIntervalSecs  int `toml:"poll_interval_secs" validate:"gte=1"`
	CredentialRetries int `toml:"credential_retries" validate:"gte=1"`
	JobWorkers        int `toml:"job_workers" validate:"gte=1"`

	Postgres PostgresConfig `toml:"postgres"`
}

func Default() Config {
	return Config{
		InstanceName:      "default",
		PublicAddress:     "http://localhost:8080",
		ListenAddr:        ":8080",
		Locale:            "en",
		LogLevel:          "info",
		SpecsDir:          "autotest",
		GroupFilesDir:     "groups",
		AllowedOrigins:    []string{"http://localhost:3000"},
		AwsRegion:         "eu-central-1",
		PollIntervalSecs:  5,
		CredentialRetries: 5,
		JobWorkers:        4,
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "proglv",
			DB:      "proglv",
			SSLMode: "disable",
		},
	}
}

// Load reads .env, then the optional TOML file at path, then AUTOTEST_* and
// POSTGRES_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"AUTOTEST_INSTANCE_NAME":        &cfg.InstanceName,
		"AUTOTEST_PUBLIC_ADDRESS":       &cfg.PublicAddress,
		"AUTOTEST_RELATIVE_URL_ROOT":    &cfg.RelativeURLRoot,
		"AUTOTEST_INSTALLATION_SECRET":  &cfg.InstallationSecret,
		"AUTOTEST_LISTEN_ADDR":          &cfg.ListenAddr,
		"JWT_KEY":                       &cfg.JwtKey,
		"AUTOTEST_LOCALE":               &cfg.Locale,
		"AUTOTEST_LOG_LEVEL":            &cfg.LogLevel,
		"AUTOTEST_SPECS_DIR":            &cfg.SpecsDir,
		"AUTOTEST_GROUP_FILES_DIR":      &cfg.GroupFilesDir,
		"AUTOTEST_SPECS_BUCKET":         &cfg.SpecsBucket,
		"AWS_REGION":                    &cfg.AwsRegion,
		"AUTOTEST_JOB_QUEUE_URL":        &cfg.JobQueueURL,
		"AUTOTEST_JOB_TABLE":            &cfg.JobTable,
		"POSTGRES_HOST":                 &cfg.Postgres.Host,
		"POSTGRES_USER":                 &cfg.Postgres.User,
		"POSTGRES_PW":                   &cfg.Postgres.Password,
		"POSTGRES_PASSWORD_SECRET_NAME": &cfg.Postgres.PasswordSecretName,
		"POSTGRES_DB":                   &cfg.Postgres.DB,
		"POSTGRES_SSLMODE":              &cfg.Postgres.SSLMode,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AUTOTEST_POLL_INTERVAL_SECS": &cfg.PollIntervalSecs,
		"AUTOTEST_CREDENTIAL_RETRIES": &cfg.CredentialRetries,
		"AUTOTEST_JOB_WORKERS":        &cfg.JobWorkers,
		"POSTGRES_PORT":               &cfg.Postgres.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s is not an integer: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// ServiceAccountName is the stable name this installation registers under.
func (c Config) ServiceAccountName() string {
	return "proglv_" + c.InstanceName + c.RelativeURLRoot
}

// BaseURL is the public address including the relative url root.
func (c Config) BaseURL() string {
	return strings.TrimRight(c.PublicAddress, "/") + c.RelativeURLRoot
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}
