package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFRenderer turns an HTML page into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

// percentEncodeForDataURL encodes a string for use in a data URL
// Unlike url.QueryEscape, this properly encodes spaces as %20 for data URLs
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b >= 'a' && b <= 'z',
			b >= 'A' && b <= 'Z',
			b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			result.WriteByte(b)
		default:
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String()
}

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}

// ChromeRenderer prints HTML to a landscape Letter PDF using headless Chrome.
func ChromeRenderer(timeout time.Duration) PDFRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context, html string) ([]byte, error) {
		binary, err := findChrome()
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		// Chrome options for headless mode in container
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(binary),
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		defer cancelAlloc()

		taskCtx, cancelTask := chromedp.NewContext(allocCtx)
		defer cancelTask()

		dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

		var pdfData []byte
		err = chromedp.Run(taskCtx,
			chromedp.Navigate(dataURL),
			chromedp.WaitReady("body"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				pdfData, _, err = page.PrintToPDF().
					WithPrintBackground(true).
					WithLandscape(true).
					WithPaperWidth(8.5).
					WithPaperHeight(11.0).
					WithMarginTop(0.5).
					WithMarginBottom(0.5).
					WithMarginLeft(0.5).
					WithMarginRight(0.5).
					WithPreferCSSPageSize(true).
					Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
		}
		return pdfData, nil
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "report"
	}
	return result
}
