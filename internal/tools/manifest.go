package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderKind selects which transport backs a manifest's tool.
type ProviderKind string

const (
	ProviderNative    ProviderKind = "native"
	ProviderStdio     ProviderKind = "stdio"
	ProviderHTTP      ProviderKind = "http"
	ProviderWebSocket ProviderKind = "websocket"
)

// Manifest is the parsed shape of one tool directory's tool.yaml. It is
// the single source of truth for a tool's name, description, provider
// kind and transport parameters — including the destructive flag, per the
// decision recorded in DESIGN.md not to keep a second lookup table.
type Manifest struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Provider    ProviderKind `yaml:"provider"`
	Destructive bool         `yaml:"destructive"`

	// stdio
	Command []string `yaml:"command,omitempty"`

	// http / websocket
	URL string `yaml:"url,omitempty"`
}

func (m Manifest) validate(dirName string) error {
	if m.Name == "" {
		return fmt.Errorf("tool.yaml in %s: missing name", dirName)
	}
	switch m.Provider {
	case ProviderNative:
	case ProviderStdio:
		if len(m.Command) == 0 {
			return fmt.Errorf("tool %s: stdio provider requires command", m.Name)
		}
	case ProviderHTTP, ProviderWebSocket:
		if m.URL == "" {
			return fmt.Errorf("tool %s: %s provider requires url", m.Name, m.Provider)
		}
	default:
		return fmt.Errorf("tool %s: unknown provider kind %q", m.Name, m.Provider)
	}
	return nil
}

// discoverManifests scans dir for immediate subdirectories each containing
// a tool.yaml, per spec's "no runtime directory-symbol-inspection"
// redesign note — the filesystem is consulted once, for manifests only,
// never for arbitrary Go symbols.
func discoverManifests(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tools: scanning %s: %w", dir, err)
	}

	var manifests []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, e.Name(), "tool.yaml")
		raw, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("tools: reading %s: %w", manifestPath, err)
		}

		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("tools: parsing %s: %w", manifestPath, err)
		}
		if err := m.validate(e.Name()); err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
