package screener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Image is a captured PNG screenshot.
type Image []byte

// Landing describes where a navigation ended up.
type Landing struct {
	URL        string
	StatusCode int
}

// Engine opens headless browser sessions. Each session serves exactly one
// navigation and capture and is closed afterwards.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is a single-use browser session.
type Session interface {
	Navigate(ctx context.Context, url string) (Landing, error)
	Screenshot(ctx context.Context) (Image, error)
	Close() error
}

// Checker is implemented by engines that can verify up front that a browser
// is available.
type Checker interface {
	Check() error
}

// NewEngine returns the engine registered under name ("rod" or "chromedp").
func NewEngine(name string, options Options) (Engine, error) {
	switch strings.ToLower(name) {
	case "", "rod":
		return NewRodEngine(options), nil
	case "chromedp":
		return NewChromedpEngine(options), nil
	default:
		return nil, fmt.Errorf("unknown capture engine %q", name)
	}
}

var chromePaths = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

var chromeNames = []string{
	"headless_shell",
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// findChromePath finds an installed Chrome/Chromium browser.
func findChromePath() string {
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	for _, p := range chromePaths[runtime.GOOS] {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func isDNSError(err error) bool {
	if err == nil {
		return false
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "net::ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(errMessage, "no such host")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(errMessage, "net::ERR_TIMED_OUT") ||
		strings.Contains(errMessage, "timeout")
}

func getFullErrorMessage(err error) string {
	var sb strings.Builder
	for err != nil {
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
		if err != nil {
			sb.WriteString(" | ")
		}
	}
	return sb.String()
}

// describeError turns a capture failure into the text stored on a Result.
// The text is never empty.
func describeError(err error) string {
	if strings.TrimSpace(err.Error()) == "" {
		return "unknown error"
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled: " + err.Error()
	case isDNSError(err):
		return "DNS lookup failed: " + err.Error()
	case isTimeoutError(err):
		return "timed out: " + err.Error()
	default:
		return err.Error()
	}
}
