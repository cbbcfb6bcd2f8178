package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/root4loot/portshot/pkg/report"
	"github.com/root4loot/portshot/pkg/screener"
)

const scanXML = `<?xml version="1.0"?>
<nmaprun scanner="nmap">
  <host>
    <status state="up"/>
    <address addr="10.0.0.1" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="80"><state state="open"/><service name="http"/></port>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
    </ports>
  </host>
  <host>
    <status state="up"/>
    <address addr="10.0.0.2" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="443"><state state="open"/><service name="https"/></port>
    </ports>
  </host>
</nmaprun>`

type fakeEngine struct {
	mu       sync.Mutex
	sessions int
	fail     map[string]error
}

func (e *fakeEngine) NewSession(ctx context.Context) (screener.Session, error) {
	e.mu.Lock()
	e.sessions++
	e.mu.Unlock()
	return &fakeSession{engine: e}, nil
}

type fakeSession struct {
	engine *fakeEngine
	url    string
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (screener.Landing, error) {
	s.url = url
	if err := s.engine.fail[url]; err != nil {
		return screener.Landing{}, err
	}
	return screener.Landing{URL: url + "/", StatusCode: 200}, nil
}

func (s *fakeSession) Screenshot(ctx context.Context) (screener.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{G: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *fakeSession) Close() error { return nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testCLI(t *testing.T, reportPath string, engine screener.Engine) (*cli, *bool) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out")

	c := newCLI()
	c.ReportPath = reportPath
	c.OutputDir = out
	c.Options.OutputDir = out
	c.Options.DelayBeforeCapture = 0

	called := false
	c.newEngine = func(name string, options screener.Options) (screener.Engine, error) {
		called = true
		return engine, nil
	}
	return c, &called
}

func TestParseFlagsDefaults(t *testing.T) {
	c, err := parseFlags([]string{"scan.xml", "out"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if c.ReportPath != "scan.xml" || c.OutputDir != "out" || c.Options.OutputDir != "out" {
		t.Fatalf("unexpected positional args %+v", c)
	}
	if c.Options.Concurrency != 5 || c.Options.DelayBeforeCapture != 3 || c.Engine != "rod" {
		t.Fatalf("unexpected defaults %+v", c.Options)
	}
	if c.DuplicateThreshold != 96 || c.GroupDistance != 8 {
		t.Fatalf("unexpected similarity defaults %d/%d", c.DuplicateThreshold, c.GroupDistance)
	}
}

func TestParseFlagsAliases(t *testing.T) {
	c, err := parseFlags([]string{
		"-c", "2", "--timeout", "30", "-dc", "1", "-nt", "-e", "chromedp",
		"-x", "10.0.0.1, 10.0.0.3,", "--open-only", "scan.xml", "out",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if c.Options.Concurrency != 2 || c.Options.Timeout != 30 || c.Options.DelayBeforeCapture != 1 {
		t.Fatalf("unexpected options %+v", c.Options)
	}
	if !c.Options.NoImprint || !c.OpenOnly || c.Engine != "chromedp" {
		t.Fatalf("expected boolean flags and engine to be set")
	}
	if len(c.Exclude) != 2 || c.Exclude[0] != "10.0.0.1" || c.Exclude[1] != "10.0.0.3" {
		t.Fatalf("unexpected exclude list %q", c.Exclude)
	}
}

func TestParseFlagsPositional(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"scan.xml"},
		{"scan.xml", "out", "extra"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("expected error for args %q", args)
		}
	}

	c, err := parseFlags([]string{"--version"})
	if err != nil || !c.Version {
		t.Fatalf("expected --version without positional args, got %v", err)
	}
}

func TestParseFlagsConfig(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "portshot.yaml", `
concurrency: 9
timeout: 40
engine: chromedp
group_distance: 4
exclude:
  - 10.0.0.9
`)

	c, err := parseFlags([]string{"--config", config, "--timeout", "20", "scan.xml", "out"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if c.Options.Concurrency != 9 || c.Engine != "chromedp" || c.GroupDistance != 4 {
		t.Fatalf("expected config values, got %+v", c)
	}
	if c.Options.Timeout != 20 {
		t.Fatalf("expected flag to override config, got timeout %d", c.Options.Timeout)
	}
	if len(c.Exclude) != 1 || c.Exclude[0] != "10.0.0.9" {
		t.Fatalf("unexpected exclude list %q", c.Exclude)
	}

	if _, err := parseFlags([]string{"--config=" + filepath.Join(dir, "missing.yaml"), "scan.xml", "out"}); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--config", "a.yaml", "x", "y"}, "a.yaml"},
		{[]string{"-config=b.yaml"}, "b.yaml"},
		{[]string{"config", "c.yaml"}, ""},
		{[]string{"--config"}, ""},
	}
	for _, tt := range tests {
		if got := configPath(tt.args); got != tt.want {
			t.Errorf("configPath(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestParseFlagsEnvFallback(t *testing.T) {
	t.Setenv("PORTSHOT_DATABASE_URL", "postgres://env/db")
	t.Setenv("PORTSHOT_PUBSUB_TOPIC", "env-topic")

	c, err := parseFlags([]string{"--pubsub-topic", "flag-topic", "scan.xml", "out"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if c.DatabaseURL != "postgres://env/db" {
		t.Errorf("expected env database url, got %q", c.DatabaseURL)
	}
	if c.PubSubTopic != "flag-topic" {
		t.Errorf("expected flag to win over env, got %q", c.PubSubTopic)
	}
}

func TestRunEndToEnd(t *testing.T) {
	scan := writeFile(t, t.TempDir(), "scan.xml", scanXML)
	engine := &fakeEngine{fail: map[string]error{
		"https://10.0.0.2:443": errors.New("net::ERR_CONNECTION_REFUSED"),
	}}
	c, called := testCLI(t, scan, engine)

	if code := c.run(context.Background()); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !*called || engine.sessions != 2 {
		t.Fatalf("expected one session per target, got %d", engine.sessions)
	}

	if _, err := os.Stat(filepath.Join(c.OutputDir, "10.0.0.1_80.png")); err != nil {
		t.Fatalf("expected screenshot: %v", err)
	}

	html, err := os.ReadFile(filepath.Join(c.OutputDir, report.HTMLFile))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(html), "ERR_CONNECTION_REFUSED") {
		t.Errorf("expected failure to be shown in report")
	}

	raw, err := os.ReadFile(filepath.Join(c.OutputDir, report.JSONFile))
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	var data report.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.RunID == "" || data.Source != scan {
		t.Errorf("expected run id and source, got %q %q", data.RunID, data.Source)
	}
	if len(data.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(data.Results))
	}
	if data.Results[0].Target.URL != "http://10.0.0.1:80" || data.Results[0].ImageFile != "10.0.0.1_80.png" {
		t.Errorf("unexpected first result %+v", data.Results[0])
	}
	if data.Results[1].Target.URL != "https://10.0.0.2:443" || data.Results[1].Error == "" || data.Results[1].ImageFile != "" {
		t.Errorf("unexpected second result %+v", data.Results[1])
	}
}

func TestRunNoTargets(t *testing.T) {
	scan := writeFile(t, t.TempDir(), "scan.xml", `<nmaprun><host><address addr="10.0.0.5" addrtype="ipv4"/>
<ports><port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port></ports></host></nmaprun>`)
	c, called := testCLI(t, scan, &fakeEngine{})

	if code := c.run(context.Background()); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if *called {
		t.Fatalf("engine must not be created without targets")
	}
	if _, err := os.Stat(filepath.Join(c.OutputDir, report.HTMLFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no report, got %v", err)
	}
}

func TestRunParseError(t *testing.T) {
	dir := t.TempDir()
	for name, path := range map[string]string{
		"malformed": writeFile(t, dir, "bad.xml", "<nmaprun><host>"),
		"missing":   filepath.Join(dir, "missing.xml"),
	} {
		c, called := testCLI(t, path, &fakeEngine{})
		if code := c.run(context.Background()); code != 1 {
			t.Errorf("%s: expected exit 1, got %d", name, code)
		}
		if *called {
			t.Errorf("%s: engine must not be created", name)
		}
	}
}

func TestRunUnknownEngine(t *testing.T) {
	scan := writeFile(t, t.TempDir(), "scan.xml", scanXML)
	c, _ := testCLI(t, scan, nil)
	c.newEngine = screener.NewEngine
	c.Engine = "webkit"

	if code := c.run(context.Background()); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
