package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hive-corporation/guardybot/internal/adapter/filter"
	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

// PresentationFile is the on-disk form of the reloadable presentation settings.
//
//	severity_bands: {low: 1, medium: 4, high: 7, critical: 8.5}
//	mentions: {critical: "@channel", medium: ""}
//	catalog: {Execution: [Lambda]}
//	mute_rules:
//	  - name: sandbox
//	    expression: account == "000000000000"
type PresentationFile struct {
	SeverityBands *domain.SeverityBands `yaml:"severity_bands" toml:"severity_bands"`
	Mentions      map[string]string     `yaml:"mentions" toml:"mentions"`
	Catalog       map[string][]string   `yaml:"catalog" toml:"catalog"`
	MuteRules     []filter.Rule         `yaml:"mute_rules" toml:"mute_rules"`
}

// ReadPresentationFile decodes a YAML (.yaml, .yml) or TOML (.toml) file.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func ReadPresentationFile(path string) (*PresentationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presentation config %s: %w", path, err)
	}

	var pf PresentationFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse presentation config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &pf)
		if err != nil {
			return nil, fmt.Errorf("parse presentation config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse presentation config %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported presentation config extension %q (want .yaml, .yml or .toml)", ext)
	}

	return &pf, nil
}

// Build validates the file and turns it into pipeline settings.
func (pf *PresentationFile) Build() (service.Presentation, error) {
	pr := service.DefaultPresentation()

	if pf.SeverityBands != nil {
		if err := pf.SeverityBands.Validate(); err != nil {
			return pr, fmt.Errorf("severity_bands: %w", err)
		}
		pr.Presenter.Bands = *pf.SeverityBands
	}

	for name, mention := range pf.Mentions {
		tier := domain.ColorTier(strings.ToLower(name))
		if !tier.IsValid() {
			return pr, fmt.Errorf("mentions: unknown tier %q", name)
		}
		pr.Presenter.Mentions[tier] = mention
	}

	purposes := make([]string, 0, len(pf.Catalog))
	for purpose := range pf.Catalog {
		purposes = append(purposes, purpose)
	}
	sort.Strings(purposes)
	for _, purpose := range purposes {
		namespaces := pf.Catalog[purpose]
		if purpose == "" || len(namespaces) == 0 {
			return pr, fmt.Errorf("catalog: entry %q needs a purpose and at least one namespace", purpose)
		}
		for _, ns := range namespaces {
			if ns == "" || strings.ContainsAny(ns, ":/") || strings.ContainsAny(purpose, ":/") {
				return pr, fmt.Errorf("catalog: invalid pair %s:%s", purpose, ns)
			}
		}
		pr.Catalog = pr.Catalog.With(purpose, namespaces...)
	}

	if len(pf.MuteRules) > 0 {
		f, err := filter.New(pf.MuteRules, nil)
		if err != nil {
			return pr, err
		}
		pr.Filter = f
	}

	return pr, nil
}

// LoadPresentation reads and builds a presentation file. An empty path
// yields the defaults.
func LoadPresentation(path string) (service.Presentation, error) {
	if path == "" {
		return service.DefaultPresentation(), nil
	}
	pf, err := ReadPresentationFile(path)
	if err != nil {
		return service.Presentation{}, err
	}
	pr, err := pf.Build()
	if err != nil {
		return service.Presentation{}, fmt.Errorf("invalid presentation config %s: %w", path, err)
	}
	return pr, nil
}
