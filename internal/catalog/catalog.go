// Package catalog serves the static list of searchable sites and tags.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var defaultSites []byte

// Site is one searchable site.
type Site struct {
	Name    string   `yaml:"name" json:"name"`
	URLMain string   `yaml:"urlMain" json:"urlMain"`
	Tags    []string `yaml:"tags" json:"tags"`
}

// Catalog is the site list plus the union of their tags.
type Catalog struct {
	Sites []Site   `yaml:"sites" json:"sites"`
	Tags  []string `yaml:"tags,omitempty" json:"tags"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultSites)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or returns Default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML. When no explicit tag list is given, tags are
// collected from the sites in first-seen order.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, s := range c.Sites {
		if s.Name == "" {
			return nil, fmt.Errorf("parse catalog: site %d has no name", i)
		}
		if s.Tags == nil {
			c.Sites[i].Tags = []string{}
		}
	}
	if len(c.Tags) == 0 {
		c.Tags = []string{}
		for _, s := range c.Sites {
			for _, tag := range s.Tags {
				if !slices.Contains(c.Tags, tag) {
					c.Tags = append(c.Tags, tag)
				}
			}
		}
	}
	return &c, nil
}

// SitesWithTag returns the sites carrying tag.
func (c *Catalog) SitesWithTag(tag string) []Site {
	var out []Site
	for _, s := range c.Sites {
		if slices.Contains(s.Tags, tag) {
			out = append(out, s)
		}
	}
	return out
}
