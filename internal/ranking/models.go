package ranking

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

// KnownModels is the default allow-list of model numbers that exist in the product lineup.
var KnownModels = []string{
	"ION9000", "ION9000T",

	"PM8140", "PM8143", "PM8144",
	"PM8240", "PM8243", "PM8244",
	"PM8340", "PM8341", "PM8342", "PM8343", "PM8344",

	"PM5100", "PM5110", "PM5111",
	"PM5300", "PM5310", "PM5320", "PM5330", "PM5340", "PM5341",
	"PM5560", "PM5561", "PM5562", "PM5563", "PM5580",

	"PM2100", "PM2110", "PM2120", "PM2130",
	"PM2200", "PM2210", "PM2220", "PM2230",

	"iEM3150", "iEM3155", "iEM3250", "iEM3255",
	"iEM3350", "iEM3355", "iEM3455", "iEM3555",
}

// AllowList answers whether a model number may be returned to a caller.
type AllowList struct {
	pool  map[string]domain.Candidate
	known []string
}

func newAllowList(pool []domain.Candidate, known []string) *AllowList {
	a := &AllowList{pool: make(map[string]domain.Candidate, len(pool)), known: known}
	for _, c := range pool {
		a.pool[c.ModelNumber] = c
	}
	return a
}

// InPool returns the pool candidate with exactly this model number.
func (a *AllowList) InPool(model string) (domain.Candidate, bool) {
	c, ok := a.pool[model]
	return c, ok
}

// Allowed reports whether model is in the pool or the known lineup. A trailing "xx"
// wildcard is accepted when some known model shares its stem.
func (a *AllowList) Allowed(model string) bool {
	if model == "" {
		return false
	}
	if _, ok := a.pool[model]; ok {
		return true
	}
	for _, k := range a.known {
		if k == model {
			return true
		}
	}
	if stem, ok := strings.CutSuffix(model, "xx"); ok && stem != "" {
		for _, k := range a.known {
			if strings.HasPrefix(k, stem) {
				return true
			}
		}
	}
	return false
}
