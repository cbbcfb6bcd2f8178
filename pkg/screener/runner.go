package screener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/root4loot/goutils/log"
	"github.com/root4loot/portshot/pkg/targets"
)

// TimestampFormat is the layout of Result.Timestamp.
const TimestampFormat = "2006-01-02 15:04:05"

// Result is the outcome of capturing one target. Exactly one of ImageFile
// and Error is set.
type Result struct {
	Target      targets.Target `json:"target"`
	ImageFile   string         `json:"image,omitempty"` // relative to the output folder
	Timestamp   string         `json:"timestamp"`
	LandingURL  string         `json:"landing_url,omitempty"`
	StatusCode  int            `json:"status_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	DuplicateOf string         `json:"duplicate_of,omitempty"`
	Group       int            `json:"group,omitempty"`

	Fuzzy string                 `json:"-"`
	PHash *goimagehash.ImageHash `json:"-"`
}

// OK reports whether the capture succeeded.
func (r Result) OK() bool {
	return r.ImageFile != "" && r.Error == ""
}

// Runner captures a list of targets with a bounded pool of workers.
type Runner struct {
	Engine  Engine
	Options Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(engine Engine, options Options) *Runner {
	return &Runner{
		Engine:  engine,
		Options: options,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

type indexedResult struct {
	index  int
	result Result
}

// Run captures every target and returns one result per target in input
// order. A failing target never stops the others; cancelling ctx turns the
// targets not yet captured into error results.
func (r *Runner) Run(ctx context.Context, targetList []targets.Target) []Result {
	log.Debugf("Running %d targets with concurrency %d", len(targetList), r.Options.Concurrency)

	results := make([]Result, len(targetList))
	if len(targetList) == 0 {
		return results
	}

	workers := r.Options.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(targetList) {
		workers = len(targetList)
	}

	jobs := make(chan int, len(targetList))
	for i := range targetList {
		jobs <- i
	}
	close(jobs)

	out := make(chan indexedResult)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out <- indexedResult{index: i, result: r.capture(ctx, targetList[i])}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for ir := range out {
		results[ir.index] = ir.result
	}
	return results
}

// capture runs the full sequence for one target and never panics.
func (r *Runner) capture(ctx context.Context, target targets.Target) (result Result) {
	result = Result{
		Target:    target,
		Timestamp: r.now().Format(TimestampFormat),
	}

	defer func() {
		if p := recover(); p != nil {
			result.ImageFile = ""
			result.Error = fmt.Sprintf("capture engine crashed: %v", p)
			log.Warnf("Could not capture %s: %s", target.URL, result.Error)
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Error = describeError(err)
		return result
	}

	if r.Options.DelayBetweenCapture > 0 {
		if err := r.sleep(ctx, time.Duration(r.Options.DelayBetweenCapture)*time.Second); err != nil {
			result.Error = describeError(err)
			return result
		}
	}

	log.Infof("Capturing screenshot for %s", target.URL)

	img, landing, err := r.shoot(ctx, target.URL)
	if err != nil {
		result.Error = describeError(err)
		log.Warnf("Could not capture %s: %s", target.URL, result.Error)
		return result
	}
	result.LandingURL = landing.URL
	result.StatusCode = landing.StatusCode

	result.Fuzzy = fuzzyHash(img)
	result.PHash = perceptionHash(img)

	if !r.Options.NoImprint {
		stamped, err := img.AddTextToImage(target.URL)
		if err != nil {
			log.Warnf("Could not add text to image for %s: %v", target.URL, err)
		} else {
			img = stamped
		}
	}

	filename, err := img.SaveImageToFolder(r.Options.OutputDir, Filename(target))
	if err != nil {
		result.Error = fmt.Sprintf("save screenshot: %v", err)
		log.Warnf("Could not save screenshot for %s: %v", target.URL, err)
		return result
	}

	result.ImageFile = filepath.Base(filename)
	log.Resultf("Screenshot saved to %s", filename)
	return result
}

// shoot acquires a session, navigates, waits for the page to settle and
// captures. The session is closed on every path.
func (r *Runner) shoot(parent context.Context, url string) (Image, Landing, error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout := r.Options.captureTimeout(); timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	session, err := r.Engine.NewSession(ctx)
	if err != nil {
		return nil, Landing{}, fmt.Errorf("start capture session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debugf("Closing capture session for %s: %v", url, err)
		}
	}()

	landing, err := session.Navigate(ctx, url)
	if err != nil {
		return nil, Landing{}, err
	}

	if delay := r.Options.settleDelay(); delay > 0 {
		if err := r.sleep(ctx, delay); err != nil {
			return nil, Landing{}, fmt.Errorf("waiting for %s to settle: %w", url, err)
		}
	}

	img, err := session.Screenshot(ctx)
	if err != nil {
		return nil, Landing{}, err
	}
	if len(img) == 0 {
		return nil, Landing{}, fmt.Errorf("empty screenshot for %s", url)
	}
	return img, landing, nil
}

// Filename returns the image file name for target: {address}_{port}.png,
// with characters that are unsafe in file names replaced.
func Filename(target targets.Target) string {
	name := target.Address + "_" + target.Port
	name = strings.NewReplacer(":", "-", "/", "_", `\`, "_").Replace(name)
	return name + ".png"
}

// SaveImageToFolder writes the image to folder/name and returns the path.
func (img Image) SaveImageToFolder(folder, name string) (filename string, err error) {
	if len(img) == 0 {
		return "", fmt.Errorf("no image data")
	}

	if folder == "" {
		folder = "."
	}

	err = os.MkdirAll(folder, os.ModePerm)
	if err != nil {
		return "", err
	}

	filename = filepath.Join(folder, name)

	file, err := os.Create(filename)
	if err != nil {
		return "", err
	}

	_, err = file.Write(img)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filename)
		return "", err
	}

	return filename, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
