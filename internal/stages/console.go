package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/models"
)

// consoleStage drives one screen of the seller console. Each item is one
// press of the screen's process action; the stage reports exactly what it
// observed, never what it intended.
type consoleStage struct {
	id   string
	name string
	path string

	// subOpsPerItem approximates the per-item sub-operation cost for
	// stages whose work fans out (image translation runs one sub-op per
	// image on the item).
	subOpsPerItem int

	// measuresCount marks register-class stages whose reports want the
	// catalog total before and after the run.
	measuresCount bool

	// singleBrowser opts the stage out of per-chunk browser restarts.
	singleBrowser bool
}

func (s *consoleStage) ID() string   { return s.id }
func (s *consoleStage) Name() string { return s.name }

func (s *consoleStage) PrefersSingleBrowser() bool { return s.singleBrowser }

func (s *consoleStage) Execute(ctx context.Context, driver *browser.Driver, account models.Account, quantity int, extras map[string]any) (models.StageResult, error) {
	result := models.NewStageResult()
	if quantity <= 0 {
		result.Success = true
		result.Skipped = true
		return result, nil
	}

	if s.measuresCount {
		if count, err := ProductCount(ctx, driver); err == nil {
			result.ProductCountBefore = count
		}
	}

	if err := s.open(driver); err != nil {
		return result, err
	}

	keywords := keywordList(extras)
	items := quantity
	if len(keywords) > 0 && len(keywords) < items {
		items = len(keywords)
	}

	for i := 0; i < items; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var keyword string
		if i < len(keywords) {
			keyword = keywords[i]
		}

		ok, exhausted, err := s.processItem(driver, keyword)
		if err != nil {
			return result, fmt.Errorf("item %d on %s: %w", i+1, s.id, err)
		}
		if exhausted {
			// Source pool ran dry; remaining chunks are pointless.
			result.ShouldStopBatch = true
			break
		}
		if ok {
			result.Processed++
			result.SubOpsDone += s.subOpsPerItem
			if keyword != "" {
				result.CompletedKeywords = append(result.CompletedKeywords, keyword)
			}
		} else {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("item %d rejected by console", i+1))
		}
	}

	if s.measuresCount {
		if count, err := ProductCount(ctx, driver); err == nil {
			result.ProductCountAfter = count
		}
	}

	result.Success = result.Failed == 0
	return result, nil
}

// keywordList pulls the remaining-keywords slice out of the extras map,
// tolerating both []string and []any shapes.
func keywordList(extras map[string]any) []string {
	raw, ok := extras["keywords"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// open navigates the browser to the stage's console screen.
func (s *consoleStage) open(driver *browser.Driver) error {
	ctx, cancel := context.WithTimeout(driver.Context(), 30*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx,
		chromedp.Navigate(ConsoleURL+s.path),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	return nil
}

// processItem performs one press of the screen's process action and
// classifies the outcome: done, rejected, or source pool exhausted.
func (s *consoleStage) processItem(driver *browser.Driver, keyword string) (ok, exhausted bool, err error) {
	ctx, cancel := context.WithTimeout(driver.Context(), 2*time.Minute)
	defer cancel()

	actions := []chromedp.Action{}
	if keyword != "" {
		actions = append(actions,
			chromedp.SetValue(`input[name="keyword"]`, keyword, chromedp.ByQuery),
		)
	}
	actions = append(actions,
		chromedp.Click(`button[data-action="process-next"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-role="item-status"]`, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return false, false, err
	}

	var status string
	if err := chromedp.Run(ctx,
		chromedp.Text(`[data-role="item-status"]`, &status, chromedp.ByQuery),
	); err != nil {
		return false, false, err
	}

	switch status {
	case "done":
		return true, false, nil
	case "empty":
		return false, true, nil
	default:
		return false, false, nil
	}
}

// DefaultRegistry builds the stage table with every pipeline step the
// console exposes. Sub-stages a/b/c target the console's three server
// groups.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(&consoleStage{id: "1", name: "register-products", path: "/catalog/register", measuresCount: true})

	for i, group := range []string{"a", "b", "c"} {
		suffix := fmt.Sprintf("_%d", i+1)
		r.Register(&consoleStage{id: "2" + suffix, name: "edit-basics-" + group, path: "/catalog/edit/basics?group=" + group})
		r.Register(&consoleStage{id: "3" + suffix, name: "edit-detail-" + group, path: "/catalog/edit/detail?group=" + group})
		r.Register(&consoleStage{id: "5" + suffix, name: "edit-pricing-" + group, path: "/catalog/edit/pricing?group=" + group})
		r.Register(&consoleStage{id: "6" + suffix, name: "publish-market-" + group, path: "/catalog/publish?group=" + group})
	}

	// Image translation fans out per image and keeps its session warm.
	r.Register(&consoleStage{id: "4", name: "translate-images", path: "/catalog/translate", subOpsPerItem: 8, singleBrowser: true})

	return r
}
