package pipeline

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/scrape"
)

// DefaultJeweller is targeted when no jeweller is requested.
const DefaultJeweller model.Jeweller = "tanishq"

// Targets expands jewellers x cities in request order. With no jewellers
// the default is used; with no cities each jeweller's supported cities
// are used. Duplicate pairs are dropped. Unknown jewellers still yield a
// target so that the run reports them as failed.
func Targets(reg *scrape.Registry, jewellers []model.Jeweller, cities []model.City) []model.Target {
	if len(jewellers) == 0 {
		jewellers = []model.Jeweller{DefaultJeweller}
	}

	seen := make(map[string]bool)
	var out []model.Target
	add := func(t model.Target) {
		k := t.Jeweller.Slug() + "/" + t.City.Slug()
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, t)
	}

	for _, j := range jewellers {
		want := cities
		if len(want) == 0 {
			if site, ok := reg.Site(j); ok {
				want = site.Cities
			}
		}
		if len(want) == 0 {
			add(model.Target{Jeweller: j})
			continue
		}
		for _, c := range want {
			add(model.Target{Jeweller: j, City: c})
		}
	}
	return out
}

// ParseList splits comma separated flag values, trimming blanks.
func ParseList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type targetsFile struct {
	Targets []model.Target `yaml:"targets"`
}

// LoadTargetsFile reads a YAML list of {jeweller, city} pairs:
//
//	targets:
//	  - jeweller: tanishq
//	    city: Bangalore
func LoadTargetsFile(path string) ([]model.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read targets file %s", path)
	}
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse targets file %s", path)
	}
	if len(f.Targets) == 0 {
		return nil, eris.Errorf("pipeline: targets file %s lists no targets", path)
	}
	for i, t := range f.Targets {
		if t.Jeweller == "" || t.City == "" {
			return nil, eris.Errorf("pipeline: targets file %s entry %d needs jeweller and city", path, i+1)
		}
	}
	return f.Targets, nil
}
