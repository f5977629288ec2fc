// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/internal/artifact"
	"github.com/order-archivers/harvest/internal/browser"
	"github.com/order-archivers/harvest/internal/config"
	"github.com/order-archivers/harvest/internal/downloader"
	"github.com/order-archivers/harvest/internal/pace"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure the browser is torn down on every exit path.
type Application struct {
	Config  *config.Config
	Logger  *zerolog.Logger
	Pacer   *pace.Pacer
	Fetcher *downloader.Fetcher

	sessionMu sync.Mutex
	session   *browser.Session

	startTime time.Time
}

// New creates and initializes a new Application. The browser session is not
// started here; it is created lazily by Session so export-only invocations
// never launch a browser.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logLevel := zerolog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logWriter io.Writer
	if cfg.JSONLog {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.NewConsoleWriter()
	}
	logger := log.Output(logWriter).With().Timestamp().Logger()
	log.Logger = logger

	logger.Debug().
		Str("level", cfg.LogLevel).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")

	app := &Application{
		Config:    cfg,
		Logger:    &logger,
		Pacer:     pace.New(cfg.RateRPS, cfg.RateBurst, cfg.JitterMin, cfg.JitterMax),
		Fetcher:   downloader.NewFetcher(cfg.HTTPTimeout, cfg.UserAgent),
		startTime: time.Now(),
	}
	logger.Debug().Msg("Application initialized")
	return app, nil
}

// Store opens (creating if necessary) the artifact store for one shop.
func (a *Application) Store(shop string) (*artifact.Store, error) {
	return artifact.NewStore(a.Config.CacheDir, shop)
}

// Session returns the shared browser session, creating it on first use. The
// store's temp directory becomes the browser download target so externally
// triggered downloads land where the completion detector watches.
func (a *Application) Session(store *artifact.Store, shop config.ShopConfig) *browser.Session {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session == nil {
		a.session = browser.NewSession(browser.Options{
			Headless:    a.Config.Headless,
			DownloadDir: store.TempDir(),
			UserAgent:   a.Config.UserAgent,
			Proxy:       a.Config.Proxy,
			ExecPath:    a.Config.ChromePath,
			KeepOpen:    shop.KeepBrowser,
			NavTimeout:  a.Config.NavTimeout,
		})
	}
	return a.session
}

// Close gracefully shuts down the application. Browser teardown errors are
// swallowed so shutdown never masks an error raised earlier in the run.
func (a *Application) Close(ctx context.Context) error {
	a.sessionMu.Lock()
	session := a.session
	a.sessionMu.Unlock()
	if session != nil {
		session.SafeQuit()
	}

	a.Logger.Debug().Dur("uptime", time.Since(a.startTime)).Msg("Application shutdown complete")
	return nil
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
