package stages

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/sellerbatch/internal/browser"
)

// Seller console entry points. SELLERBATCH_CONSOLE_URL points the whole
// pipeline at a staging console.
var (
	ConsoleURL = "https://sellers.qoo10.com"
	loginPath  = "/login"
)

func init() {
	if v := os.Getenv("SELLERBATCH_CONSOLE_URL"); v != "" {
		ConsoleURL = strings.TrimRight(v, "/")
	}
}

const loginTimeout = 45 * time.Second

// Login drives the console's login form for the given credentials and
// reports success as a boolean. Partial state is never left behind: on
// any failure the caller may simply retry or discard the browser.
func Login(ctx context.Context, driver *browser.Driver, email, password string) (bool, error) {
	runCtx, cancel := context.WithTimeout(driver.Context(), loginTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx,
		// A stale session cookie would mask bad credentials.
		network.ClearBrowserCookies(),
		chromedp.Navigate(ConsoleURL+loginPath),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, email, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
	); err != nil {
		return false, fmt.Errorf("login flow failed: %w", err)
	}

	// The console redirects away from /login on success and re-renders
	// the form with an error banner otherwise.
	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return false, fmt.Errorf("post-login location check failed: %w", err)
	}
	if strings.Contains(location, loginPath) {
		return false, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	return true, nil
}
