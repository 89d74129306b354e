package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/common"
)

// defaultCreateTimeout bounds a browser launch when the config leaves
// browser.timeout unset.
const defaultCreateTimeout = 30 * time.Second

// launchTimeout resolves the configured creation watchdog.
func launchTimeout(cfg common.BrowserConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return defaultCreateTimeout
	}
	return time.Duration(cfg.Timeout) * time.Second
}

// createMu serializes browser creation process-wide. Launching several
// Chrome instances at once is what makes launches hang in the first place.
var createMu sync.Mutex

// Driver is one live browser session bound to an account.
type Driver struct {
	AccountID string
	CreatedAt time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// Context returns the chromedp context for running browser actions.
func (d *Driver) Context() context.Context {
	return d.ctx
}

// Launcher starts a browser and returns its chromedp context plus the
// cancel funcs for the browser and allocator contexts. Tests substitute
// a fake so the registry logic runs without Chrome.
type Launcher func(cfg common.BrowserConfig) (context.Context, context.CancelFunc, context.CancelFunc, error)

// Registry owns at most one browser per account and handles creation,
// liveness checks, and teardown.
type Registry struct {
	cfg      common.BrowserConfig
	logger   arbor.ILogger
	launcher Launcher
	timeout  time.Duration

	// probe checks browser liveness; replaced in tests alongside launcher.
	probe func(d *Driver) bool

	// loginFn is the console login routine, injected to keep the
	// registry free of page-flow knowledge.
	loginFn func(ctx context.Context, d *Driver, email, password string) (bool, error)

	mu      sync.Mutex
	drivers map[string]*Driver
}

// NewRegistry creates a registry using the real Chrome launcher.
func NewRegistry(cfg common.BrowserConfig, logger arbor.ILogger) *Registry {
	r := &Registry{
		cfg:      cfg,
		logger:   logger,
		launcher: chromeLauncher,
		timeout:  launchTimeout(cfg),
		drivers:  make(map[string]*Driver),
	}
	r.probe = r.chromedpProbe
	return r
}

// NewRegistryWithLauncher creates a registry with a custom launcher.
func NewRegistryWithLauncher(cfg common.BrowserConfig, logger arbor.ILogger, launcher Launcher) *Registry {
	r := NewRegistry(cfg, logger)
	r.launcher = launcher
	return r
}

// Acquire returns the account's live driver, creating one if the account
// has none or its browser has died.
func (r *Registry) Acquire(accountID string) (*Driver, error) {
	r.mu.Lock()
	d, ok := r.drivers[accountID]
	r.mu.Unlock()

	if ok && r.IsAlive(d) {
		return d, nil
	}
	if ok {
		r.logger.Warn().Str("account", accountID).Msg("Browser no longer responsive, recreating")
		r.Close(accountID)
	}
	return r.Create(accountID)
}

// Create launches a fresh browser for the account, closing any existing
// one first. Creation is serialized process-wide and bounded by the
// configured watchdog; a launch that completes after the deadline is
// torn down rather than leaked.
func (r *Registry) Create(accountID string) (*Driver, error) {
	r.Close(accountID)

	createMu.Lock()
	defer createMu.Unlock()

	start := time.Now()
	r.logger.Info().Str("account", accountID).Bool("headless", r.cfg.Headless).Msg("Launching browser")

	type launchResult struct {
		ctx         context.Context
		cancel      context.CancelFunc
		allocCancel context.CancelFunc
		err         error
	}
	resultCh := make(chan launchResult, 1)

	go func() {
		ctx, cancel, allocCancel, err := r.launcher(r.cfg)
		resultCh <- launchResult{ctx, cancel, allocCancel, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("browser launch for %s failed: %w", accountID, res.err)
		}
		d := &Driver{
			AccountID:   accountID,
			CreatedAt:   time.Now(),
			ctx:         res.ctx,
			cancel:      res.cancel,
			allocCancel: res.allocCancel,
		}
		r.mu.Lock()
		r.drivers[accountID] = d
		r.mu.Unlock()

		r.logger.Info().
			Str("account", accountID).
			Dur("startup_time", time.Since(start)).
			Msg("Browser launched")
		return d, nil

	case <-time.After(r.timeout):
		// Drain the launch in the background so a late success does not
		// leave a zombie Chrome behind.
		go func() {
			res := <-resultCh
			if res.err == nil {
				if res.cancel != nil {
					res.cancel()
				}
				if res.allocCancel != nil {
					res.allocCancel()
				}
			}
		}()
		return nil, fmt.Errorf("browser launch for %s timed out after %s", accountID, r.timeout)
	}
}

// SetLoginFunc installs the console login routine used by Login.
func (r *Registry) SetLoginFunc(fn func(ctx context.Context, d *Driver, email, password string) (bool, error)) {
	r.loginFn = fn
}

// Login runs the console login on the account's browser. Success is a
// boolean with no partial state; the caller decides whether to retry.
func (r *Registry) Login(ctx context.Context, accountID, email, password string) bool {
	d, ok := r.Get(accountID)
	if !ok || r.loginFn == nil {
		return false
	}
	success, err := r.loginFn(ctx, d, email, password)
	if err != nil {
		r.logger.Warn().Err(err).Str("account", accountID).Msg("Login attempt failed")
	}
	return success
}

// Get returns the account's driver without creating one.
func (r *Registry) Get(accountID string) (*Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[accountID]
	return d, ok
}

// IsAlive reports whether the driver's browser still answers commands.
func (r *Registry) IsAlive(d *Driver) bool {
	if d == nil || d.ctx == nil {
		return false
	}
	return r.probe(d)
}

func (r *Registry) chromedpProbe(d *Driver) bool {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()

	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		r.logger.Debug().Err(err).Str("account", d.AccountID).Msg("Browser liveness check failed")
		return false
	}
	return true
}

// Close tears down the account's browser. Quit errors are swallowed; the
// browser may already be gone.
func (r *Registry) Close(accountID string) {
	r.mu.Lock()
	d, ok := r.drivers[accountID]
	if ok {
		delete(r.drivers, accountID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.teardown(d)
	r.logger.Info().Str("account", accountID).Msg("Browser closed")
}

// CloseAll tears down every browser in the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	drivers := r.drivers
	r.drivers = make(map[string]*Driver)
	r.mu.Unlock()

	for id, d := range drivers {
		r.teardown(d)
		r.logger.Info().Str("account", id).Msg("Browser closed")
	}
}

// Count returns the number of registered browsers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drivers)
}

func (r *Registry) teardown(d *Driver) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn().Str("account", d.AccountID).Msg("Recovered from panic during browser teardown")
		}
	}()
	if d.cancel != nil {
		d.cancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
}

// chromeLauncher starts a real Chrome via chromedp's exec allocator.
func chromeLauncher(cfg common.BrowserConfig) (context.Context, context.CancelFunc, context.CancelFunc, error) {
	width, height := cfg.WindowSize[0], cfg.WindowSize[1]
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(width, height),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Startup probe so a broken Chrome install fails here, not mid-stage.
	probeCtx, probeCancel := context.WithTimeout(browserCtx, launchTimeout(cfg))
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		allocCancel()
		return nil, nil, nil, fmt.Errorf("browser failed startup probe: %w", err)
	}

	return browserCtx, cancel, allocCancel, nil
}
