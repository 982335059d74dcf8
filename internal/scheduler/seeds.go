package scheduler

import (
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/karaoke-scout/internal/discovery"
	"github.com/sells-group/karaoke-scout/internal/model"
)

// DefaultSchedule applies when neither the watch list nor a seed names one.
const DefaultSchedule = "@every 24h"

// WatchList is the YAML file of seeds to re-discover periodically.
//
//	schedule: "@every 24h"
//	seeds:
//	  - url: https://starlitekaraoke.com
//	  - url: https://www.facebook.com/groups/columbuskaraoke
//	    mode: social_group
//	    schedule: "0 6 * * *"
type WatchList struct {
	Schedule string `yaml:"schedule"`
	Seeds    []Seed `yaml:"seeds"`
}

// Seed is one watched URL with optional per-seed overrides.
type Seed struct {
	URL               string `yaml:"url"`
	Mode              string `yaml:"mode"`
	MaxDepth          int    `yaml:"max_depth"`
	MaxUnits          int    `yaml:"max_units"`
	IncludeSubdomains bool   `yaml:"include_subdomains"`
	Schedule          string `yaml:"schedule"`
}

// Request converts the seed into a run request.
func (s Seed) Request() model.RunRequest {
	return model.RunRequest{
		URL:               s.URL,
		Mode:              s.Mode,
		MaxDepth:          s.MaxDepth,
		MaxUnits:          s.MaxUnits,
		IncludeSubdomains: s.IncludeSubdomains,
	}
}

// LoadSeeds reads and validates a watch list.
func LoadSeeds(path string) (*WatchList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: read watch list %s", path)
	}
	return ParseSeeds(data)
}

// ParseSeeds decodes and validates a watch list document.
func ParseSeeds(data []byte) (*WatchList, error) {
	var wl WatchList
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, eris.Wrap(err, "scheduler: parse watch list")
	}
	if wl.Schedule == "" {
		wl.Schedule = DefaultSchedule
	}
	if err := wl.Validate(); err != nil {
		return nil, err
	}
	return &wl, nil
}

// Validate checks every seed and schedule expression.
func (wl *WatchList) Validate() error {
	if _, err := cron.ParseStandard(wl.Schedule); err != nil {
		return eris.Wrapf(err, "scheduler: invalid schedule %q", wl.Schedule)
	}
	seen := make(map[string]bool, len(wl.Seeds))
	for i, s := range wl.Seeds {
		url := strings.TrimSpace(s.URL)
		if url == "" {
			return eris.Errorf("scheduler: seed %d has no url", i)
		}
		if seen[strings.ToLower(url)] {
			return eris.Errorf("scheduler: seed %s is listed twice", url)
		}
		seen[strings.ToLower(url)] = true
		if _, ok := discovery.ParseMode(s.Mode); !ok {
			return eris.Errorf("scheduler: seed %s has unknown mode %q", url, s.Mode)
		}
		if s.Schedule != "" {
			if _, err := cron.ParseStandard(s.Schedule); err != nil {
				return eris.Wrapf(err, "scheduler: seed %s has invalid schedule %q", url, s.Schedule)
			}
		}
	}
	return nil
}
