package screener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine captures screenshots through chromedp's exec allocator.
type ChromedpEngine struct {
	Options Options
}

func NewChromedpEngine(options Options) *ChromedpEngine {
	return &ChromedpEngine{Options: options}
}

func (e *ChromedpEngine) Check() error {
	if findChromePath() == "" {
		return errors.New("no Chrome/Chromium binary found")
	}
	return nil
}

// customFlags returns chromedp.ExecAllocatorOptions based on the engine options.
func (e *ChromedpEngine) customFlags() []chromedp.ExecAllocatorOption {
	var customFlags []chromedp.ExecAllocatorOption

	if path := findChromePath(); path != "" {
		customFlags = append(customFlags, chromedp.ExecPath(path))
	}

	if !e.Options.RespectCertificateErrors {
		customFlags = append(customFlags, chromedp.Flag("ignore-certificate-errors", true))
	}

	if !e.Options.UseHTTP2 {
		customFlags = append(customFlags, chromedp.Flag("disable-http2", true))
	}

	if e.Options.UserAgent != "" {
		customFlags = append(customFlags, chromedp.UserAgent(e.Options.UserAgent))
	}

	return customFlags
}

func (e *ChromedpEngine) NewSession(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], e.customFlags()...)

	allocator, cancelAllocator := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocator)

	s := &chromedpSession{
		ctx:             browserCtx,
		cancelBrowser:   cancelBrowser,
		cancelAllocator: cancelAllocator,
		options:         e.Options,
	}

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAllocator()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	chromedp.ListenTarget(browserCtx, s.onEvent)
	return s, nil
}

// chromedpSession binds every action to the browser context created in
// NewSession, which already carries the capture deadline.
type chromedpSession struct {
	ctx             context.Context
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
	options         Options

	mu         sync.Mutex
	statusCode int
}

func (s *chromedpSession) onEvent(ev interface{}) {
	if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
		s.mu.Lock()
		if s.statusCode == 0 && e.Response != nil {
			s.statusCode = int(e.Response.Status)
		}
		s.mu.Unlock()
	}
}

func (s *chromedpSession) Navigate(_ context.Context, url string) (Landing, error) {
	var landing Landing

	tasks := chromedp.Tasks{}
	if s.options.CaptureWidth != 0 && s.options.CaptureHeight != 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(s.options.CaptureWidth), int64(s.options.CaptureHeight)))
	}
	tasks = append(tasks, chromedp.Navigate(url), chromedp.Location(&landing.URL))

	if err := chromedp.Run(s.ctx, tasks); err != nil {
		return Landing{}, fmt.Errorf("error navigating to %s: %w", url, err)
	}

	s.mu.Lock()
	landing.StatusCode = s.statusCode
	s.mu.Unlock()
	return landing, nil
}

func (s *chromedpSession) Screenshot(_ context.Context) (Image, error) {
	var buf []byte

	action := chromedp.CaptureScreenshot(&buf)
	if s.options.CaptureFull {
		action = chromedp.FullScreenshot(&buf, 100)
	}

	if err := chromedp.Run(s.ctx, action); err != nil {
		return nil, fmt.Errorf("error capturing screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromedpSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancelBrowser()
	s.cancelAllocator()
	return err
}
