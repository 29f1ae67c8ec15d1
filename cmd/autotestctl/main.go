package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/programme-lv/autotest/autotest"
	"github.com/programme-lv/autotest/conf"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/credstore"
	"github.com/programme-lv/autotest/groupfiles"
	"github.com/programme-lv/autotest/specdoc"
	"github.com/programme-lv/autotest/testrun"
	"github.com/programme-lv/autotest/translations"
)

const usage = `usage: autotestctl <command> [flags]

commands:
  register -course ID -url URL   register this installation with an autotester
  rotate -course ID              issue a new api key and push it to the autotester
  schema -course ID              print the autotester's settings schema
  watch -assignment ID           follow test runs in progress
`

type app struct {
	pool   *pgxpool.Pool
	creds  *credstore.Store
	ledger testrun.Ledger
	client *autotest.Client
}

func newApp(ctx context.Context, cfg conf.Config) (*app, error) {
	pg, err := cfg.Postgres.ResolvePassword(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, pg.ConnStr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	tr, err := translations.New(cfg.Locale)
	if err != nil {
		pool.Close()
		return nil, err
	}
	courses := course.NewPgCourseRepo(pool)
	creds := credstore.NewStore(credstore.NewPgCredRepo(pool), cfg.ServiceAccountName(), cfg.CredentialRetries)
	ledger := testrun.NewPgLedger(pool)
	specs := specdoc.NewFileStore(cfg.SpecsDir)
	client := autotest.NewClient(autotest.Config{
		BaseURL:            cfg.BaseURL(),
		InstallationSecret: cfg.InstallationSecret,
	}, autotest.Deps{
		Courses:   courses,
		Creds:     creds,
		Ledger:    ledger,
		Specs:     specs,
		Files:     specs,
		Revisions: groupfiles.NewDir(cfg.GroupFilesDir),
		Tr:        tr,
	})
	return &app{pool: pool, creds: creds, ledger: ledger, client: client}, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	courseID := fs.Int64("course", 0, "course id")
	assignmentID := fs.Int64("assignment", 0, "assignment id")
	url := fs.String("url", "", "autotester base url")
	fs.Parse(args)

	cfg, err := conf.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.pool.Close()

	switch cmd {
	case "register":
		if *courseID == 0 || *url == "" {
			log.Fatal("register needs -course and -url")
		}
		if _, err := a.client.Register(ctx, *courseID, *url); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("registered course %d with %s\n", *courseID, *url)
	case "rotate":
		if *courseID == 0 {
			log.Fatal("rotate needs -course")
		}
		if _, err := a.creds.Rotate(ctx); err != nil {
			log.Fatal(err)
		}
		if err := a.client.UpdateCredentials(ctx, *courseID); err != nil {
			log.Fatal(err)
		}
		fmt.Println("credentials rotated")
	case "schema":
		if *courseID == 0 {
			log.Fatal("schema needs -course")
		}
		doc, err := a.client.GetSchema(ctx, *courseID)
		if err != nil {
			log.Fatal(err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			log.Fatal(err)
		}
	case "watch":
		if *assignmentID == 0 {
			log.Fatal("watch needs -assignment")
		}
		p := tea.NewProgram(newWatchModel(*assignmentID, a.ledger, a.client))
		if _, err := p.Run(); err != nil {
			log.Fatal(err)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
