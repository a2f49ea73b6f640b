package config

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// VegetationProfile is one tunable scatter layer, loaded from YAML so
// designers can rebalance without a rebuild.
type VegetationProfile struct {
	Name           string  `yaml:"name"`
	ContentType    int     `yaml:"content_type"`
	Density        float32 `yaml:"density"`
	Spacing        float32 `yaml:"spacing"`
	NoiseFrequency float32 `yaml:"noise_frequency"`
	MaxSlope       float32 `yaml:"max_slope"`
	HeightMin      float32 `yaml:"height_min"`
	HeightMax      float32 `yaml:"height_max"`
	HostCopy       bool    `yaml:"host_copy"`
}

type vegetationFile struct {
	Profiles []VegetationProfile `yaml:"profiles"`
}

var (
	vegMu       sync.RWMutex
	vegProfiles = defaultVegetationProfiles()
)

func defaultVegetationProfiles() map[string]VegetationProfile {
	return map[string]VegetationProfile{
		"trees": {
			Name:        "trees",
			ContentType: 1,
			Density:     0.15,
			Spacing:     4,
			MaxSlope:    0.8,
			HeightMin:   1,
			HeightMax:   180,
			HostCopy:    true,
		},
		"grass": {
			Name:        "grass",
			ContentType: 2,
			Density:     0.7,
			Spacing:     1,
			MaxSlope:    0.6,
			HeightMin:   0.5,
			HeightMax:   120,
		},
		"rocks": {
			Name:        "rocks",
			ContentType: 3,
			Density:     0.05,
			Spacing:     6,
			MaxSlope:    0.3,
			HeightMin:   -20,
			HeightMax:   250,
		},
	}
}

// LoadVegetationProfiles replaces the profile set with the contents of a
// YAML file. Profiles must have unique names and nonzero content types.
func LoadVegetationProfiles(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vegetation profiles: %w", err)
	}

	var file vegetationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse vegetation profiles: %w", err)
	}

	loaded := make(map[string]VegetationProfile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Name == "" {
			return fmt.Errorf("vegetation profile without a name")
		}
		if p.ContentType <= 0 {
			return fmt.Errorf("vegetation profile %q: content_type must be positive", p.Name)
		}
		if _, dup := loaded[p.Name]; dup {
			return fmt.Errorf("duplicate vegetation profile %q", p.Name)
		}
		loaded[p.Name] = p
	}

	vegMu.Lock()
	vegProfiles = loaded
	vegMu.Unlock()
	return nil
}

// GetVegetationProfile returns one profile by name
func GetVegetationProfile(name string) (VegetationProfile, bool) {
	vegMu.RLock()
	defer vegMu.RUnlock()
	p, ok := vegProfiles[name]
	return p, ok
}

// VegetationProfiles returns all profiles sorted by name
func VegetationProfiles() []VegetationProfile {
	vegMu.RLock()
	defer vegMu.RUnlock()
	out := make([]VegetationProfile, 0, len(vegProfiles))
	for _, p := range vegProfiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetVegetationProfiles restores the built-in profile set
func ResetVegetationProfiles() {
	vegMu.Lock()
	vegProfiles = defaultVegetationProfiles()
	vegMu.Unlock()
}
