package screener

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine captures screenshots with a go-rod controlled browser. Every
// session launches its own browser process.
type RodEngine struct {
	Options Options
}

func NewRodEngine(options Options) *RodEngine {
	return &RodEngine{Options: options}
}

// Check reports an error when no local Chrome/Chromium binary can be found.
func (e *RodEngine) Check() error {
	if _, found := launcher.LookPath(); !found {
		return errors.New("no Chrome/Chromium binary found in PATH")
	}
	return nil
}

func (e *RodEngine) NewSession(ctx context.Context) (Session, error) {
	path, _ := launcher.LookPath()

	l := launcher.New().
		Context(ctx).
		Headless(true).
		Bin(path).
		NoSandbox(true)

	if e.Options.UserAgent != "" {
		l.Set("user-agent", e.Options.UserAgent)
	}

	if !e.Options.RespectCertificateErrors {
		l.Set("ignore-certificate-errors", "true")
	}

	if !e.Options.UseHTTP2 {
		l.Set("disable-http2", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	s := &rodSession{launcher: l, browser: browser, full: e.Options.CaptureFull}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page = page

	if e.Options.CaptureWidth != 0 && e.Options.CaptureHeight != 0 {
		viewport := &proto.EmulationSetDeviceMetricsOverride{
			Width:             e.Options.CaptureWidth,
			Height:            e.Options.CaptureHeight,
			DeviceScaleFactor: 1,
			Mobile:            false,
		}
		if err := page.SetViewport(viewport); err != nil {
			s.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	return s, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	full     bool
}

func (s *rodSession) Navigate(ctx context.Context, url string) (Landing, error) {
	page := s.page.Context(ctx)

	var e proto.NetworkResponseReceived
	wait := page.WaitEvent(&e)

	if err := page.Navigate(url); err != nil {
		return Landing{}, fmt.Errorf("error navigating to %s: %w", url, err)
	}

	wait()

	if err := page.WaitLoad(); err != nil {
		return Landing{}, fmt.Errorf("waiting for %s to load: %w", url, err)
	}

	var landing Landing
	if e.Response != nil {
		landing.StatusCode = e.Response.Status
	}
	if info, err := page.Info(); err == nil {
		landing.URL = info.URL
	}
	return landing, nil
}

func (s *rodSession) Screenshot(ctx context.Context) (Image, error) {
	img, err := s.page.Context(ctx).Screenshot(s.full, nil)
	if err != nil {
		return nil, fmt.Errorf("error capturing screenshot: %w", err)
	}
	return img, nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}
