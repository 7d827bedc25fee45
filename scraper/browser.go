package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// fetchScript issues the POST from inside the page so the request carries
// the browser's cookies and fingerprint.
const fetchScript = `async ({ url, body }) => {
  const res = await fetch(url, {
    method: "POST",
    headers: { "Content-Type": "application/json", "Accept": "application/json" },
    credentials: "include",
    body,
  });
  return { status: res.status, body: await res.text() };
}`

// BrowserTransport posts through a headless Chromium page that has first
// visited the public site. It is used when the API rejects plain clients.
type BrowserTransport struct {
	mu        sync.Mutex
	originURL string
	headless  bool

	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

func NewBrowserTransport(originURL string, headless bool) *BrowserTransport {
	if originURL == "" {
		originURL = "https://holland2stay.com/residences"
	}
	return &BrowserTransport{originURL: originURL, headless: headless}
}

func (b *BrowserTransport) init() error {
	if b.page != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create page: %w", err)
	}

	log.Printf("Browser: opening %s", b.originURL)
	if _, err := page.Goto(b.originURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		page.Close()
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to load %s: %w", b.originURL, err)
	}

	b.pw = pw
	b.browser = browser
	b.page = page
	return nil
}

func (b *BrowserTransport) Post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.init(); err != nil {
		return 0, nil, err
	}

	result, err := b.page.Evaluate(fetchScript, map[string]any{
		"url":  endpoint,
		"body": string(body),
	})
	if err != nil {
		// A crashed page is rebuilt on the next call.
		b.closeLocked()
		return 0, nil, fmt.Errorf("evaluate fetch: %w", err)
	}

	out, ok := result.(map[string]any)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected evaluate result %T", result)
	}
	text, _ := out["body"].(string)
	return toInt(out["status"]), []byte(text), nil
}

func (b *BrowserTransport) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *BrowserTransport) closeLocked() {
	if b.page != nil {
		b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
