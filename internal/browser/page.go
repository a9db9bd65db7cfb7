package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// chromePage implements interfaces.Page over one browser tab context.
type chromePage struct {
	tab context.Context
}

// run executes chromedp actions under the caller's context so cancellation
// and timeouts propagate into the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.tab, actions...)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: browser action aborted: %v", models.ErrTimeout, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: browser action failed: %v", models.ErrNetwork, err)
		}
		return nil
	}
}

func (p *chromePage) Goto(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// snapshotScript captures matched elements as detached snapshots in one
// round trip instead of one CDP call per element.
const snapshotScript = `
Array.from(document.querySelectorAll(%q)).map(el => ({
	text: el.innerText || "",
	html: el.outerHTML || "",
	attr: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value]))
}))`

func (p *chromePage) QuerySelector(ctx context.Context, selector string) (*interfaces.ElementRef, error) {
	refs, err := p.QuerySelectorAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

func (p *chromePage) QuerySelectorAll(ctx context.Context, selector string) ([]interfaces.ElementRef, error) {
	var refs []interfaces.ElementRef
	script := fmt.Sprintf(snapshotScript, selector)
	if err := p.run(ctx, chromedp.Evaluate(script, &refs)); err != nil {
		return nil, err
	}
	return refs, nil
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}
