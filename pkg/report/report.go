// Package report renders capture results into an HTML page and a JSON file
// next to the screenshots.
package report

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/root4loot/portshot/pkg/screener"
)

const (
	HTMLFile = "report.html"
	JSONFile = "results.json"

	defaultTitle = "Nmap Web Application Screenshot Report"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))

type Summary struct {
	Total    int `json:"total"`
	Captured int `json:"captured"`
	Failed   int `json:"failed"`
}

// Data is everything the report template sees.
type Data struct {
	Title     string            `json:"title"`
	Source    string            `json:"source,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	Generated string            `json:"generated"`
	Summary   Summary           `json:"summary"`
	Results   []screener.Result `json:"results"`
}

// New builds report data for results, which must already be in target order.
func New(source, runID string, results []screener.Result) Data {
	data := Data{
		Title:     defaultTitle,
		Source:    source,
		RunID:     runID,
		Generated: time.Now().Format(screener.TimestampFormat),
		Results:   results,
	}

	data.Summary.Total = len(results)
	for _, r := range results {
		if r.OK() {
			data.Summary.Captured++
		} else {
			data.Summary.Failed++
		}
	}
	return data
}

// Render executes the HTML template into w.
func Render(w io.Writer, data Data) error {
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Write renders the HTML report into dir and returns its path.
func Write(dir string, data Data) (string, error) {
	path := filepath.Join(dir, HTMLFile)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}

	err = Render(f, data)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close report: %w", cerr)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// WriteJSON writes data as indented JSON into dir and returns its path.
func WriteJSON(dir string, data Data) (string, error) {
	path := filepath.Join(dir, JSONFile)

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
