package interfaces

import "context"

// ElementRef is a detached snapshot of a DOM element captured during a
// selector query. Adapters parse from snapshots, never live handles.
type ElementRef struct {
	Text string            `json:"text"`
	HTML string            `json:"html"`
	Attr map[string]string `json:"attr,omitempty"`
}

// Page is the rendered-browser capability scraping adapters drive. Every
// method honors the context for cancellation and timeout.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string) error
	QuerySelector(ctx context.Context, selector string) (*ElementRef, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]ElementRef, error)
	Evaluate(ctx context.Context, script string, out interface{}) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// PageProvider hands out pages from a bounded browser pool. The release
// function must be called when the caller is done with the page.
type PageProvider interface {
	Borrow(ctx context.Context) (Page, func(), error)
	Close() error
}
