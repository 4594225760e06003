package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gravitas-games/flowfield/internal/config"
	"github.com/gravitas-games/flowfield/internal/grid"
)

// mapFile lists cost overrides for individual regions. Regions not listed
// keep the configured default cost.
//
//	regions:
//	  - region: {column: 0, row: 1}
//	    costs: [1, 1, 255, ...] # resolution*resolution, row-major
type mapFile struct {
	Regions []struct {
		Region grid.RegionID `yaml:"region"`
		Costs  []int         `yaml:"costs"`
	} `yaml:"regions"`
}

func loadWorld(wc config.WorldConfig) (*grid.World, error) {
	dims := grid.Dimensions{Columns: wc.Columns, Rows: wc.Rows, Resolution: wc.Resolution}
	if wc.MapFile == "" {
		return grid.NewWorld(dims, uint8(wc.DefaultCost))
	}

	data, err := os.ReadFile(wc.MapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read map file: %w", err)
	}
	loader, err := parseMap(data, uint8(wc.DefaultCost))
	if err != nil {
		return nil, fmt.Errorf("map file %s: %w", wc.MapFile, err)
	}
	return grid.NewWorldFromLoader(dims, loader)
}

func parseMap(data []byte, defaultCost uint8) (grid.StaticLoader, error) {
	var mf mapFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return grid.StaticLoader{}, fmt.Errorf("failed to parse map: %w", err)
	}

	loader := grid.StaticLoader{Fields: make(map[grid.RegionID][]uint8, len(mf.Regions)), Default: defaultCost}
	for _, r := range mf.Regions {
		if _, dup := loader.Fields[r.Region]; dup {
			return grid.StaticLoader{}, fmt.Errorf("region %s listed twice", r.Region)
		}
		costs := make([]uint8, len(r.Costs))
		for i, c := range r.Costs {
			if c < 1 || c > 255 {
				return grid.StaticLoader{}, fmt.Errorf("%w: region %s cell %d has cost %d", grid.ErrInvalidCost, r.Region, i, c)
			}
			costs[i] = uint8(c)
		}
		loader.Fields[r.Region] = costs
	}
	return loader, nil
}
