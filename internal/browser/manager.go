// Package browser owns the headless Chrome process and hands out one
// stealth tab per target.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/config"
)

// ErrBrowserStart marks a Chrome launch or connect failure. It is fatal for
// a run because no target can proceed without a browser.
var ErrBrowserStart = eris.New("browser: cannot start chrome")

// Config configures the Manager.
type Config struct {
	// RemoteURL is a DevTools websocket of an already running Chrome.
	// Empty launches a local one.
	RemoteURL  string
	BinPath    string
	Headless   bool
	UserAgent  string
	Width      int
	Height     int
	NavTimeout time.Duration
	WarmupMin  time.Duration
	WarmupMax  time.Duration
}

// ConfigFrom maps the browser config section onto a manager Config.
func ConfigFrom(c config.BrowserConfig) Config {
	cfg := Config{
		RemoteURL:  c.RemoteURL,
		BinPath:    c.BinPath,
		Headless:   c.Headless,
		UserAgent:  c.UserAgent,
		Width:      c.WindowWidth,
		Height:     c.WindowHeight,
		NavTimeout: time.Duration(c.NavTimeoutSecs) * time.Second,
		WarmupMin:  time.Duration(c.WarmupMinMs) * time.Millisecond,
		WarmupMax:  time.Duration(c.WarmupMaxMs) * time.Millisecond,
	}
	cfg.defaults()
	return cfg
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.WarmupMax < c.WarmupMin {
		c.WarmupMax = c.WarmupMin
	}
}

// Manager owns the Chrome process for a run.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start before Acquire.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "browser")),
	}
}

// Start launches Chrome, or connects to RemoteURL when set.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return eris.Wrap(ErrBrowserStart, "manager is closed")
	}
	return m.launchLocked(ctx)
}

func (m *Manager) launchLocked(ctx context.Context) error {
	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Context(ctx).
			Headless(m.cfg.Headless).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", m.cfg.Width, m.cfg.Height))
		if m.cfg.UserAgent != "" {
			l = l.Set("user-agent", m.cfg.UserAgent)
		}
		if m.cfg.BinPath != "" {
			l = l.Bin(m.cfg.BinPath)
		}

		u, err := l.Launch()
		if err != nil {
			return eris.Wrapf(ErrBrowserStart, "launch: %v", err)
		}
		wsURL = u
		m.lnch = l
		m.log.Info("launched local chrome", zap.Bool("headless", m.cfg.Headless))
	} else {
		m.log.Info("connecting to remote chrome")
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return eris.Wrapf(ErrBrowserStart, "connect: %v", err)
	}
	m.browser = b
	return nil
}

// Acquire opens a fresh stealth tab in its own incognito context. If the
// shared browser misbehaves, Chrome is recycled once and the tab retried.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	s, err := m.acquire(ctx)
	if err == nil {
		return s, nil
	}

	m.log.Warn("acquire failed, recycling chrome", zap.Error(err))
	if rerr := m.Recycle(ctx); rerr != nil {
		return nil, rerr
	}
	return m.acquire(ctx)
}

func (m *Manager) acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, eris.New("browser: not started")
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "browser: incognito context")
	}

	page, err := stealth.Page(incognito)
	if err != nil {
		_ = incognito.Close()
		return nil, eris.Wrap(err, "browser: stealth page")
	}

	if m.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}); err != nil {
			m.log.Warn("set user agent failed", zap.Error(err))
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Width,
		Height:            m.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		m.log.Warn("set viewport failed", zap.Error(err))
	}

	release := func() error {
		perr := page.Close()
		cerr := incognito.Close()
		if perr != nil {
			return eris.Wrap(perr, "browser: close page")
		}
		if cerr != nil {
			return eris.Wrap(cerr, "browser: close context")
		}
		return nil
	}

	rp := &rodPage{page: page, navTimeout: m.cfg.NavTimeout}
	return NewSession(rp, m.cfg.WarmupMin, m.cfg.WarmupMax, release), nil
}

// Recycle kills Chrome and starts a new one.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return eris.Wrap(ErrBrowserStart, "manager is closed")
	}
	m.log.Info("recycling chrome")
	m.cleanupLocked()
	return m.launchLocked(ctx)
}

// Close shuts Chrome down. Safe to call repeatedly.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.log.Debug("close browser", zap.Error(err))
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
