package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stillmind/companionkit/pkg/entitlement"
)

// yamlSchemaVersion is the catalog document version this build reads.
const yamlSchemaVersion = 1

type yamlDocument struct {
	Version  int           `yaml:"version"`
	Features []yamlFeature `yaml:"features"`
}

type yamlFeature struct {
	ID          string `yaml:"id"`
	Tier        string `yaml:"required_tier"`
	Critical    bool   `yaml:"critical"`
	Remote      bool   `yaml:"requires_network"`
	Description string `yaml:"description"`
}

// ParseYAML reads a versioned catalog document and builds a validated
// catalog from it. The document format:
//
//	version: 1
//	features:
//	  - id: crisis_resources
//	    required_tier: none
//	    critical: true
//	  - id: guided_sessions
//	    required_tier: premium
func ParseYAML(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	if doc.Version != yamlSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	descriptors := make([]Descriptor, 0, len(doc.Features))
	for _, f := range doc.Features {
		tier, err := entitlement.ParseTier(f.Tier)
		if err != nil {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("feature %q: %w", f.ID, err))
		}
		descriptors = append(descriptors, Descriptor{
			ID:          f.ID,
			Tier:        tier,
			IsCritical:  f.Critical,
			NeedsRemote: f.Remote,
			Description: f.Description,
		})
	}

	return New(descriptors...)
}

// LoadYAML builds a catalog from a document on disk.
func LoadYAML(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return ParseYAML(f)
}
