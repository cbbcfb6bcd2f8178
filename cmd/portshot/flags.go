package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const usage = `USAGE:
  portshot [options] <nmap.xml> <output-dir>

INPUT:
  <nmap.xml>                     nmap XML report (nmap -oX)
  <output-dir>                   folder receiving screenshots and report (created if missing)
  -x,   --exclude                addresses to skip (comma separated)
        --open-only              only capture ports in the "open" state                  (Default: false)

CONFIGURATIONS:
  -c,   --concurrency            number of concurrent captures                           (Default: 5)
  -e,   --engine                 capture engine: rod, chromedp                           (Default: rod)
  -to,  --timeout                capture timeout                                         (Default: 15 seconds)
  -dc,  --delay-capture          settle delay after page load (seconds)                  (Default: 3)
  -dbc, --delay-between-capture  delay between captures (seconds)                        (Default: 0)
  -ua,  --user-agent             specify user agent                                      (Default: Chrome UA)
  -uh,  --use-http2              use HTTP2                                               (Default: false)
  -cw,  --capture-width          output width                                            (Default: 1366)
  -ch,  --capture-height         output height                                           (Default: 768)
  -cf,  --capture-full           capture entire content                                  (Default: false)
  -rce, --respect-cert-err       respect certificate errors                              (Default: false)
  -dt,  --duplicate-threshold    similarity percentage (1-100) flagging duplicates       (Default: 96)
  -gd,  --group-distance         max perceptual hash distance for visual groups          (Default: 8)
        --config                 YAML file with default options

OUTPUT:
  -nt,  --no-text                do not add text to output images                        (Default: false)
        --database-url           store results in PostgreSQL   (env PORTSHOT_DATABASE_URL)
        --pubsub-project         publish results to Pub/Sub    (env PORTSHOT_PUBSUB_PROJECT)
        --pubsub-topic           Pub/Sub topic                 (env PORTSHOT_PUBSUB_TOPIC)
  -s,   --silence                silence output
        --debug                  enable debug mode
        --version                display version
`

// configPath finds --config/-config before the flag set is built, so the
// file can supply the defaults that flags then override.
func configPath(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (c *cli) loadConfig(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func parseFlags(args []string) (*cli, error) {
	c := newCLI()
	c.ConfigFile = configPath(args)
	if c.ConfigFile != "" {
		if err := c.loadConfig(c.ConfigFile); err != nil {
			return nil, err
		}
	}

	var exclude string

	fs := flag.NewFlagSet("portshot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// INPUT
	fs.StringVar(&exclude, "exclude", "", "")
	fs.StringVar(&exclude, "x", "", "")
	fs.BoolVar(&c.OpenOnly, "open-only", c.OpenOnly, "")

	// CONFIGURATIONS
	fs.IntVar(&c.Options.Concurrency, "concurrency", c.Options.Concurrency, "")
	fs.IntVar(&c.Options.Concurrency, "c", c.Options.Concurrency, "")
	fs.StringVar(&c.Engine, "engine", c.Engine, "")
	fs.StringVar(&c.Engine, "e", c.Engine, "")
	fs.IntVar(&c.Options.Timeout, "timeout", c.Options.Timeout, "")
	fs.IntVar(&c.Options.Timeout, "to", c.Options.Timeout, "")
	fs.IntVar(&c.Options.DelayBeforeCapture, "delay-capture", c.Options.DelayBeforeCapture, "")
	fs.IntVar(&c.Options.DelayBeforeCapture, "dc", c.Options.DelayBeforeCapture, "")
	fs.IntVar(&c.Options.DelayBetweenCapture, "delay-between-capture", c.Options.DelayBetweenCapture, "")
	fs.IntVar(&c.Options.DelayBetweenCapture, "dbc", c.Options.DelayBetweenCapture, "")
	fs.StringVar(&c.Options.UserAgent, "user-agent", c.Options.UserAgent, "")
	fs.StringVar(&c.Options.UserAgent, "ua", c.Options.UserAgent, "")
	fs.BoolVar(&c.Options.UseHTTP2, "use-http2", c.Options.UseHTTP2, "")
	fs.BoolVar(&c.Options.UseHTTP2, "uh", c.Options.UseHTTP2, "")
	fs.IntVar(&c.Options.CaptureWidth, "capture-width", c.Options.CaptureWidth, "")
	fs.IntVar(&c.Options.CaptureWidth, "cw", c.Options.CaptureWidth, "")
	fs.IntVar(&c.Options.CaptureHeight, "capture-height", c.Options.CaptureHeight, "")
	fs.IntVar(&c.Options.CaptureHeight, "ch", c.Options.CaptureHeight, "")
	fs.BoolVar(&c.Options.CaptureFull, "capture-full", c.Options.CaptureFull, "")
	fs.BoolVar(&c.Options.CaptureFull, "cf", c.Options.CaptureFull, "")
	fs.BoolVar(&c.Options.RespectCertificateErrors, "respect-cert-err", c.Options.RespectCertificateErrors, "")
	fs.BoolVar(&c.Options.RespectCertificateErrors, "rce", c.Options.RespectCertificateErrors, "")
	fs.IntVar(&c.DuplicateThreshold, "duplicate-threshold", c.DuplicateThreshold, "")
	fs.IntVar(&c.DuplicateThreshold, "dt", c.DuplicateThreshold, "")
	fs.IntVar(&c.GroupDistance, "group-distance", c.GroupDistance, "")
	fs.IntVar(&c.GroupDistance, "gd", c.GroupDistance, "")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "")

	// OUTPUT
	fs.BoolVar(&c.Options.NoImprint, "no-text", c.Options.NoImprint, "")
	fs.BoolVar(&c.Options.NoImprint, "nt", c.Options.NoImprint, "")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "")
	fs.StringVar(&c.PubSubProject, "pubsub-project", c.PubSubProject, "")
	fs.StringVar(&c.PubSubTopic, "pubsub-topic", c.PubSubTopic, "")
	fs.BoolVar(&c.Silence, "silence", false, "")
	fs.BoolVar(&c.Silence, "s", false, "")
	fs.BoolVar(&c.Debug, "debug", false, "")
	fs.BoolVar(&c.Help, "help", false, "")
	fs.BoolVar(&c.Help, "h", false, "")
	fs.BoolVar(&c.Version, "version", false, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if c.Help || c.Version {
		return c, nil
	}

	if fs.NArg() != 2 {
		return nil, errors.New("expected <nmap.xml> and <output-dir>")
	}
	c.ReportPath = fs.Arg(0)
	c.OutputDir = fs.Arg(1)
	c.Options.OutputDir = c.OutputDir

	if exclude != "" {
		c.Exclude = nil
		for _, addr := range strings.Split(exclude, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.Exclude = append(c.Exclude, addr)
			}
		}
	}

	c.DatabaseURL = orEnv(c.DatabaseURL, "PORTSHOT_DATABASE_URL")
	c.PubSubProject = orEnv(c.PubSubProject, "PORTSHOT_PUBSUB_PROJECT")
	c.PubSubTopic = orEnv(c.PubSubTopic, "PORTSHOT_PUBSUB_TOPIC")

	return c, nil
}

// orEnv returns value, or the environment variable key when value is empty.
func orEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
