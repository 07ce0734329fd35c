package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the browser Manager.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string

	// Stealth opens pages with go-rod/stealth evasions. Default: true.
	Stealth bool

	// ResourceBlocking lists resource types to refuse: images, fonts,
	// media, stylesheets, or any CDP resource type.
	ResourceBlocking []string

	// NavigateTimeout bounds the navigation commit. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection) and opens tracked
// pages on it.
type Manager struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start before Open.
func NewManager(cfg BrowserConfig) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome or connects to the remote instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("rodhost: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("rodhost: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Context(ctx).
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("rodhost: launched local chrome", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("rodhost: ignore cert errors failed", "error", err)
	}
	m.browser = b
	return nil
}

// Open creates a tab, attaches readiness tracking and navigates to pageURL.
// It returns as soon as the navigation commits: the document is usually
// still loading.
func (m *Manager) Open(ctx context.Context, pageURL string) (*Document, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("rodhost: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rodhost: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("rodhost: resource blocking failed", "error", err)
		}
	}

	doc, err := Attach(ctx, page, m.cfg.Logger)
	if err != nil {
		page.Close()
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := doc.Navigate(navCtx, pageURL); err != nil {
		doc.Close()
		return nil, err
	}
	m.cfg.Logger.Debug("rodhost: page opened", "url", pageURL)
	return doc, nil
}

// Close shuts down the browser.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
