package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/sellerbatch/internal/browser"
)

// ProductCount reads the account's registered-product total from the
// console's catalog page. Returns -1 when the count cannot be determined;
// callers treat that as "not measured", never as zero products.
func ProductCount(ctx context.Context, driver *browser.Driver) (int, error) {
	runCtx, cancel := context.WithTimeout(driver.Context(), 30*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(ConsoleURL+"/catalog"),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	); err != nil {
		return -1, fmt.Errorf("catalog page fetch failed: %w", err)
	}
	return parseProductCount(html)
}

// parseProductCount extracts the total from the catalog markup. The
// console renders it either as a labelled counter or as a row-count
// fallback on older layouts.
func parseProductCount(html string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return -1, fmt.Errorf("catalog page parse failed: %w", err)
	}

	if text := doc.Find(".product-count, [data-role='total-count']").First().Text(); text != "" {
		if n, err := parseCountText(text); err == nil {
			return n, nil
		}
	}

	// Fallback: count the visible catalog rows.
	if rows := doc.Find("table.catalog-list tbody tr").Length(); rows > 0 {
		return rows, nil
	}
	return -1, fmt.Errorf("no product counter found on catalog page")
}

func parseCountText(text string) (int, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return -1, fmt.Errorf("no digits in counter text %q", text)
	}
	return strconv.Atoi(cleaned)
}
