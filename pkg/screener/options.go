package screener

import (
	"time"

	"github.com/root4loot/goutils/log"
)

// Options contains the options for capturing screenshots.
type Options struct {
	Concurrency              int    `yaml:"concurrency"`                // Number of concurrent captures
	CaptureHeight            int    `yaml:"capture_height"`             // Height of the capture
	CaptureWidth             int    `yaml:"capture_width"`              // Width of the capture
	Timeout                  int    `yaml:"timeout"`                    // Timeout for each capture (seconds)
	RespectCertificateErrors bool   `yaml:"respect_certificate_errors"` // Respect certificate errors
	UseHTTP2                 bool   `yaml:"use_http2"`                  // Use HTTP2
	UserAgent                string `yaml:"user_agent"`                 // User agent
	DelayBeforeCapture       int    `yaml:"delay_before_capture"`       // Settle delay after navigation (seconds)
	DelayBetweenCapture      int    `yaml:"delay_between_capture"`      // Delay before each capture starts (seconds)
	CaptureFull              bool   `yaml:"capture_full"`               // Take a full-page screenshot
	NoImprint                bool   `yaml:"no_imprint"`                 // Do not stamp the URL under the image
	OutputDir                string `yaml:"output_dir"`                 // Folder receiving the images
}

// NewOptions returns an Options struct initialized with default values.
func NewOptions() Options {
	return Options{
		Concurrency:              5,
		CaptureHeight:            768,
		CaptureWidth:             1366,
		Timeout:                  15,
		RespectCertificateErrors: false,
		UseHTTP2:                 false,
		DelayBeforeCapture:       3,
		DelayBetweenCapture:      0,
		CaptureFull:              false,
		NoImprint:                false,
		OutputDir:                "./screenshots",
		UserAgent:                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	}
}

func (o Options) settleDelay() time.Duration {
	return time.Duration(o.DelayBeforeCapture) * time.Second
}

// captureTimeout bounds one capture. The settle delay is added on top so a
// long delay cannot eat the navigation budget.
func (o Options) captureTimeout() time.Duration {
	if o.Timeout <= 0 {
		return 0
	}
	return time.Duration(o.Timeout)*time.Second + o.settleDelay()
}

// Init sets up the package logger.
func Init() {
	log.Init("portshot")
	log.SetLevel(log.InfoLevel)
}

// SetDebug enables or disables debug logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SetSilent limits logging to fatal messages.
func SetSilent() {
	log.SetLevel(log.FatalLevel)
}
