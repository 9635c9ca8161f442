package scrape

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// ErrUnsupportedTarget is returned for a jeweller or city with no extraction
// support. It fails that target only.
var ErrUnsupportedTarget = eris.New("scrape: unsupported target")

// FieldSpec says where one carat's price lives on a page.
type FieldSpec struct {
	// HiddenInput selects a script-populated input whose value is either a
	// single price or a bracketed series aligned with Site.SeriesDates.
	HiddenInput string
	// TextSelector selects the visible element showing the price.
	TextSelector string
}

// DateControl describes a page widget for choosing a historical day.
type DateControl struct {
	Input  string
	Apply  string
	Layout string
}

// Site is the markup contract for one jeweller's rate page.
type Site struct {
	Jeweller model.Jeweller
	BaseURL  string
	Cities   []model.City
	// Extractable is false for jewellers whose pages are registered but
	// not yet mapped.
	Extractable bool

	Fields map[model.Carat]FieldSpec
	// DateDisplay selects the element showing the day the fields refer to.
	DateDisplay string
	// SeriesDates selects the hidden input listing the days of each series.
	SeriesDates string
	// DateLayout is how the page renders days.
	DateLayout  string
	DateControl *DateControl
	// Ready is waited on only as a hint that scripts have populated fields.
	Ready  string
	Popups []string
}

// URL returns the rate page for city. Sites without per-city pages ignore it.
func (s *Site) URL(model.City) string { return s.BaseURL }

// City resolves name case-insensitively against the supported cities.
func (s *Site) City(name model.City) (model.City, bool) {
	want := name.Slug()
	for _, c := range s.Cities {
		if c.Slug() == want {
			return c, true
		}
	}
	return "", false
}

// CommonPopups are overlay close buttons worth clicking before reading.
var CommonPopups = []string{
	".gdex-popup-overlay",
	".popup-close",
	".close",
	"[aria-label='Close']",
	".modal-close",
	".overlay-close",
}

// Tanishq publishes national rates plus a trailing series for each carat.
func Tanishq() *Site {
	return &Site{
		Jeweller:    "tanishq",
		BaseURL:     "https://www.tanishq.co.in/gold-rate.html?lang=en_IN",
		Extractable: true,
		Cities: []model.City{
			"Mumbai", "Delhi", "Bangalore", "Chennai", "Kolkata",
			"Hyderabad", "Pune", "Ahmedabad", "Jaipur", "Lucknow",
		},
		Fields: map[model.Carat]FieldSpec{
			model.Carat18K: {HiddenInput: "#goldRate18KT", TextSelector: ".goldpurity-rate[data-purity='18KT'] .rate-value"},
			model.Carat22K: {HiddenInput: "#goldRate22KT", TextSelector: ".goldpurity-rate[data-purity='22KT'] .rate-value"},
			model.Carat24K: {HiddenInput: "#goldRate24KT", TextSelector: ".goldpurity-rate[data-purity='24KT'] .rate-value"},
		},
		DateDisplay: ".goldrate-date",
		SeriesDates: "#goldRateDates",
		DateLayout:  "02-01-2006",
		Ready:       ".goldpurity-rate",
		Popups:      CommonPopups,
	}
}

// Kalyan is registered with its cities but has no field mapping yet.
func Kalyan() *Site {
	return &Site{
		Jeweller: "kalyan",
		BaseURL:  "https://www.kalyanjewellers.net/gold-rate",
		Cities: []model.City{
			"Mumbai", "Delhi", "Bangalore", "Chennai", "Kolkata",
			"Hyderabad", "Pune", "Kochi", "Thrissur", "Coimbatore",
		},
		Popups: CommonPopups,
	}
}

// Joyalukkas is registered with its cities but has no field mapping yet.
func Joyalukkas() *Site {
	return &Site{
		Jeweller: "joyalukkas",
		BaseURL:  "https://www.joyalukkas.com/gold-rate",
		Cities: []model.City{
			"Mumbai", "Delhi", "Bangalore", "Chennai", "Kolkata",
			"Hyderabad", "Dubai", "Kuwait", "Qatar",
		},
		Popups: CommonPopups,
	}
}

// Registry maps jeweller identifiers to sites in registration order.
type Registry struct {
	order []model.Jeweller
	sites map[model.Jeweller]*Site
}

// NewRegistry builds a registry from sites.
func NewRegistry(sites ...*Site) *Registry {
	r := &Registry{sites: make(map[model.Jeweller]*Site, len(sites))}
	for _, s := range sites {
		j := model.Jeweller(s.Jeweller.Slug())
		if _, dup := r.sites[j]; !dup {
			r.order = append(r.order, j)
		}
		r.sites[j] = s
	}
	return r
}

// DefaultRegistry holds every known jeweller.
func DefaultRegistry() *Registry {
	return NewRegistry(Tanishq(), Kalyan(), Joyalukkas())
}

// Jewellers lists registered jewellers in registration order.
func (r *Registry) Jewellers() []model.Jeweller {
	return append([]model.Jeweller(nil), r.order...)
}

// Site returns the site for j.
func (r *Registry) Site(j model.Jeweller) (*Site, bool) {
	s, ok := r.sites[model.Jeweller(j.Slug())]
	return s, ok
}

// Resolve returns the site for t and t with canonical identifiers. Unknown
// jewellers, unknown cities and unmapped sites wrap ErrUnsupportedTarget.
func (r *Registry) Resolve(t model.Target) (*Site, model.Target, error) {
	s, ok := r.Site(t.Jeweller)
	if !ok {
		return nil, t, eris.Wrapf(ErrUnsupportedTarget, "unknown jeweller %q (known: %s)", t.Jeweller, r.joined())
	}
	city, ok := s.City(t.City)
	if !ok {
		return nil, t, eris.Wrapf(ErrUnsupportedTarget, "%s does not serve %q", s.Jeweller, t.City)
	}
	resolved := model.Target{Jeweller: s.Jeweller, City: city}
	if !s.Extractable {
		return nil, resolved, eris.Wrapf(ErrUnsupportedTarget, "%s extraction is not implemented", s.Jeweller)
	}
	return s, resolved, nil
}

func (r *Registry) joined() string {
	names := make([]string, len(r.order))
	for i, j := range r.order {
		names[i] = string(j)
	}
	return strings.Join(names, ", ")
}
