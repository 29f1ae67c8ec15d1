package athttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/jobs"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
)

// Autotester is the part of the autotest client the handlers call
// synchronously. Everything else goes through jobs.
type Autotester interface {
	GetSchema(ctx context.Context, courseID int64) (specdoc.Document, error)
	Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error)
}

type SchemaComposer interface {
	Compose(ctx context.Context, static specdoc.Document, assignmentID int64, observedCategories []string) (specdoc.Document, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) (jobs.Job, error)
	Get(ctx context.Context, id uuid.UUID) (jobs.Job, error)
}

// GroupFiles streams the files of one grouping.
type GroupFiles interface {
	Walk(ctx context.Context, groupingID int64, collected bool, fn func(name string, r io.Reader) error) error
}

type Options struct {
	JwtKey         []byte
	AllowedOrigins []string
	LogLevel       slog.Level
	Env            string
}

type Deps struct {
	Courses    course.Repo
	Creds      credentialSource
	Autotester Autotester
	Composer   SchemaComposer
	Ledger     testrun.Ledger
	Jobs       JobQueue
	TestFiles  specdoc.TestFiles
	GroupFiles GroupFiles
	Tr         *translations.Translator
}

type HttpServer struct {
	deps     Deps
	router   *chi.Mux
	validate *validator.Validate
}

func NewHttpServer(opts Options, deps Deps) (*HttpServer, error) {
	router := chi.NewRouter()

	logger := httplog.NewLogger("proglv-autotest", httplog.Options{
		LogLevel:         opts.LogLevel,
		Concise:          true,
		RequestHeaders:   false,
		MessageFieldName: "message",
		Tags: map[string]string{
			"env": opts.Env,
		},
	})
	router.Use(httplog.RequestLogger(logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           3000,
	}))

	validate := validator.New()
	if err := translations.RegisterValidatorTranslations(validate, deps.Tr); err != nil {
		return nil, err
	}

	server := &HttpServer{
		deps:     deps,
		router:   router,
		validate: validate,
	}
	server.routes(opts.JwtKey)
	return server, nil
}

func (s *HttpServer) Handler() http.Handler {
	return s.router
}

func (s *HttpServer) routes(jwtKey []byte) {
	r := s.router

	// Called by the autotester.
	r.Route("/api/courses/{courseID}/assignments/{assignmentID}", func(r chi.Router) {
		r.Use(apiKeyAuth(s.deps.Creds))
		r.Get("/test_files", s.getTestFiles)
		r.Get("/groups/{groupID}/submission_files", s.getSubmissionFiles)
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth(jwtKey))
		r.Route("/courses/{courseID}/assignments/{assignmentID}/autotest", func(r chi.Router) {
			r.Get("/schema", s.getSchema)
			r.Put("/specs", s.putSpecs)
			r.Post("/runs", s.createRuns)
			r.Delete("/runs", s.cancelRuns)
			r.Get("/runs/status", s.runStatuses)
		})
		r.Get("/jobs/{jobID}", s.getJob)
	})
}

func logFrom(r *http.Request) *slog.Logger {
	return httplog.LogEntry(r.Context())
}
