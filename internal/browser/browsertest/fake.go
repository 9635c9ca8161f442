// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/browser"
)

// FakePage is a scripted page. Fields maps selectors to element values;
// OnSet and OnClick let a test mutate the page the way site scripts would.
type FakePage struct {
	mu sync.Mutex

	Fields  map[string]string
	Hidden  map[string]bool
	Body    string
	NavErr  error
	OnSet   func(p *FakePage, selector, value string)
	OnClick func(p *FakePage, selector string)

	Navigations []string
	Clicks      []string
	current     string
}

var _ browser.Page = (*FakePage)(nil)

// New returns a FakePage with the given field values.
func New(fields map[string]string) *FakePage {
	if fields == nil {
		fields = map[string]string{}
	}
	return &FakePage{Fields: fields, Hidden: map[string]bool{}}
}

// Set assigns a field value without firing OnSet. Callers inside OnSet or
// OnClick already hold the lock and should write p.Fields directly.
func (p *FakePage) Set(selector, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fields[selector] = value
}

// Remove deletes a field so lookups fail.
func (p *FakePage) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Fields, selector)
}

func (p *FakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	if p.NavErr != nil {
		return p.NavErr
	}
	p.current = url
	return nil
}

func (p *FakePage) Value(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Fields[selector]
	if !ok {
		return "", eris.Wrapf(browser.ErrElementNotFound, "selector %s", selector)
	}
	return v, nil
}

func (p *FakePage) SetValue(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Fields[selector]; !ok {
		return eris.Wrapf(browser.ErrElementNotFound, "selector %s", selector)
	}
	p.Fields[selector] = value
	if p.OnSet != nil {
		p.OnSet(p, selector, value)
	}
	return nil
}

func (p *FakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Fields[selector]; !ok {
		return eris.Wrapf(browser.ErrElementNotFound, "selector %s", selector)
	}
	p.Clicks = append(p.Clicks, selector)
	if p.OnClick != nil {
		p.OnClick(p, selector)
	}
	return nil
}

func (p *FakePage) Visible(_ context.Context, selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Fields[selector]
	return ok && !p.Hidden[selector]
}

func (p *FakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Body, nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
