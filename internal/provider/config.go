package provider

import (
	"fmt"
	"strings"

	"github.com/maxz073/finm-dashboard/internal/provider/polygon"
	"github.com/maxz073/finm-dashboard/internal/provider/sample"
	"github.com/maxz073/finm-dashboard/internal/provider/synthetic"
	"github.com/maxz073/finm-dashboard/internal/provider/wrds"
)

// Live tier names accepted by Config.Live.
const (
	LivePolygon = "polygon"
	LiveWRDS    = "wrds"
	LiveNone    = "none"
)

// Config is everything the adapter needs; nothing is read from the
// environment after construction.
type Config struct {
	Live      string
	Polygon   polygon.Config
	WRDS      wrds.Config
	Sample    sample.Config
	Synthetic synthetic.Config
}

// Validate checks the live tier name.
func (c Config) Validate() error {
	switch strings.ToLower(c.Live) {
	case LivePolygon, LiveWRDS, LiveNone, "":
		return nil
	default:
		return fmt.Errorf("unknown data provider %q (use: polygon, wrds, none)", c.Live)
	}
}

// Tiers builds the fallback chain: live (if any), sample, synthetic.
func (c Config) Tiers() []Source {
	var tiers []Source
	switch strings.ToLower(c.Live) {
	case LivePolygon:
		tiers = append(tiers, polygon.NewSource(c.Polygon))
	case LiveWRDS:
		tiers = append(tiers, wrds.NewSource(c.WRDS))
	}
	return append(tiers, sample.NewSource(c.Sample), synthetic.NewSource(c.Synthetic))
}
