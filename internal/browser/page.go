package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
)

// ErrElementNotFound is returned when a selector matches nothing on the page.
var ErrElementNotFound = eris.New("browser: element not found")

// Page is the slice of a browser tab the extractor drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Value reads the live value property of the first match.
	Value(ctx context.Context, selector string) (string, error)
	// SetValue assigns a value and fires input and change events.
	SetValue(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Visible(ctx context.Context, selector string) bool
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	URL() string
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	defer pg.CancelTimeout()

	if err := pg.Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	if err := pg.WaitLoad(); err != nil {
		return eris.Wrapf(err, "browser: wait load %s", url)
	}
	return nil
}

func (p *rodPage) find(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: query %s", selector)
	}
	if !has {
		return nil, eris.Wrapf(ErrElementNotFound, "selector %s", selector)
	}
	return el, nil
}

func (p *rodPage) Value(ctx context.Context, selector string) (string, error) {
	el, err := p.find(ctx, selector)
	if err != nil {
		return "", err
	}
	v, err := el.Property("value")
	if err != nil {
		return "", eris.Wrapf(err, "browser: read value %s", selector)
	}
	if v.Nil() {
		text, err := el.Text()
		if err != nil {
			return "", eris.Wrapf(err, "browser: read text %s", selector)
		}
		return text, nil
	}
	return v.Str(), nil
}

const setValueJS = `function (v) {
	this.value = v;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (p *rodPage) SetValue(ctx context.Context, selector, value string) error {
	el, err := p.find(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(setValueJS, value); err != nil {
		return eris.Wrapf(err, "browser: set value %s", selector)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.find(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return eris.Wrapf(err, "browser: click %s", selector)
	}
	return nil
}

func (p *rodPage) Visible(ctx context.Context, selector string) bool {
	el, err := p.find(ctx, selector)
	if err != nil {
		return false
	}
	ok, err := el.Visible()
	return err == nil && ok
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", eris.Wrap(err, "browser: read html")
	}
	return html, nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
