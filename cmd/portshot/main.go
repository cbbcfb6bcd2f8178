package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/root4loot/goutils/log"

	"github.com/root4loot/portshot/pkg/notify"
	"github.com/root4loot/portshot/pkg/report"
	"github.com/root4loot/portshot/pkg/screener"
	"github.com/root4loot/portshot/pkg/storage"
	pgstore "github.com/root4loot/portshot/pkg/storage/postgres"
	"github.com/root4loot/portshot/pkg/targets"
)

const version = "0.1.0"

type cli struct {
	Options            screener.Options `yaml:",inline"`
	Engine             string           `yaml:"engine"`
	Exclude            []string         `yaml:"exclude"`
	OpenOnly           bool             `yaml:"open_only"`
	DuplicateThreshold int              `yaml:"duplicate_threshold"`
	GroupDistance      int              `yaml:"group_distance"`
	DatabaseURL        string           `yaml:"database_url"`
	PubSubProject      string           `yaml:"pubsub_project"`
	PubSubTopic        string           `yaml:"pubsub_topic"`

	ReportPath string `yaml:"-"`
	OutputDir  string `yaml:"-"`
	ConfigFile string `yaml:"-"`
	Silence    bool   `yaml:"-"`
	Debug      bool   `yaml:"-"`
	Help       bool   `yaml:"-"`
	Version    bool   `yaml:"-"`

	newEngine func(name string, options screener.Options) (screener.Engine, error)
}

func newCLI() *cli {
	return &cli{
		Options:            screener.NewOptions(),
		Engine:             "rod",
		DuplicateThreshold: 96,
		GroupDistance:      8,
		newEngine:          screener.NewEngine,
	}
}

func init() {
	screener.Init()
}

func main() {
	c, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Errorf("%v", err)
		fmt.Print(usage)
		os.Exit(2)
	}

	if c.Help {
		fmt.Print(usage)
		os.Exit(0)
	}

	if c.Version {
		fmt.Println("portshot", version)
		os.Exit(0)
	}

	switch {
	case c.Silence:
		screener.SetSilent()
	default:
		screener.SetDebug(c.Debug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := c.run(ctx)
	stop()
	os.Exit(code)
}

// run executes a full scan-to-report pass and returns the process exit code.
func (c *cli) run(ctx context.Context) int {
	if err := os.MkdirAll(c.OutputDir, os.ModePerm); err != nil {
		log.Errorf("Could not create output folder: %v", err)
		return 1
	}

	filter := targets.Filter{ExcludeAddresses: c.Exclude, OpenOnly: c.OpenOnly}
	list, err := targets.ExtractFile(c.ReportPath, filter)
	if err != nil {
		var perr *targets.ParseError
		if errors.As(err, &perr) {
			log.Errorf("Could not read scan report: %v", perr)
		} else {
			log.Errorf("%v", err)
		}
		return 1
	}

	if len(list) == 0 {
		log.Warn("No web applications found in the Nmap scan.")
		return 1
	}

	log.Infof("Found %d web applications. Capturing screenshots...", len(list))

	engine, err := c.newEngine(c.Engine, c.Options)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	if checker, ok := engine.(screener.Checker); ok {
		if err := checker.Check(); err != nil {
			log.Errorf("Capture engine unavailable: %v", err)
			return 1
		}
	}

	results := screener.NewRunner(engine, c.Options).Run(ctx, list)

	if err := screener.MarkDuplicates(results, c.DuplicateThreshold); err != nil {
		log.Warnf("Skipping duplicate detection: %v", err)
	}
	screener.GroupSimilar(results, c.GroupDistance)

	runID := uuid.NewString()
	data := report.New(c.ReportPath, runID, results)

	reportPath, err := report.Write(c.OutputDir, data)
	if err != nil {
		log.Errorf("Could not write report: %v", err)
		return 1
	}
	if _, err := report.WriteJSON(c.OutputDir, data); err != nil {
		log.Warnf("Could not write JSON results: %v", err)
	}

	log.Infof("%d captured, %d failed", data.Summary.Captured, data.Summary.Failed)
	log.Resultf("HTML report generated: %s", reportPath)

	// Sinks get their own deadline so an interrupted run still gets stored.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	c.store(sinkCtx, runID, results)
	c.publish(sinkCtx, runID, results)

	return 0
}

func (c *cli) store(ctx context.Context, runID string, results []screener.Result) {
	if c.DatabaseURL == "" {
		return
	}

	pool, err := pgstore.NewDB(ctx, c.DatabaseURL)
	if err != nil {
		log.Warnf("Could not connect to database: %v", err)
		return
	}
	defer pool.Close()

	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		log.Warnf("Could not prepare database: %v", err)
		return
	}

	failed, err := storage.SaveAll(ctx, pgstore.NewRepository(pool), runID, results)
	if err != nil {
		log.Warnf("Could not store %d of %d results: %v", failed, len(results), err)
		return
	}
	log.Debugf("Stored %d results for run %s", len(results), runID)
}

func (c *cli) publish(ctx context.Context, runID string, results []screener.Result) {
	if c.PubSubProject == "" || c.PubSubTopic == "" {
		return
	}

	client, err := pubsub.NewClient(ctx, c.PubSubProject)
	if err != nil {
		log.Warnf("Could not create Pub/Sub client: %v", err)
		return
	}
	defer client.Close()

	publisher := notify.NewPubSubPublisher(client.Topic(c.PubSubTopic))
	defer publisher.Stop()

	failed, err := notify.PublishAll(ctx, publisher, runID, results)
	if err != nil {
		log.Warnf("Could not publish %d of %d results: %v", failed, len(results), err)
		return
	}
	log.Debugf("Published %d results to %s", len(results), c.PubSubTopic)
}
