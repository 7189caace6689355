package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// DefaultFlavor is the flavor every lookup falls back to when the requested
// flavor (or one of its config files) is missing.
const DefaultFlavor = "default"

// Config types recognised under a flavor directory. Each maps to
// flavors/<flavor>/<type>.yaml.
const (
	ConfigTypeScenePrompts  = "scene_prompts"
	ConfigTypeImageParams   = "image_params"
	ConfigTypeVideoParams   = "video_params"
	ConfigTypeLipSyncParams = "lipsync_params"
	ConfigTypeComposeParams = "compose_params"
)

// FlavorStore holds every flavor's parameter/prompt bundles, loaded once at
// startup. The store is immutable after LoadFlavors returns; stage executors
// receive it by reference and never reach for package-level state.
type FlavorStore struct {
	flavors map[string]map[string]map[string]interface{}
}

// LoadFlavors walks dir (one subdirectory per flavor, one YAML file per config
// type) and builds the store. A missing "default" flavor is an error because
// every fallback lands there.
func LoadFlavors(dir string) (*FlavorStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read flavors dir %s: %w", dir, err)
	}

	store := &FlavorStore{flavors: make(map[string]map[string]map[string]interface{})}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		flavor := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, flavor))
		if err != nil {
			return nil, fmt.Errorf("read flavor %s: %w", flavor, err)
		}
		bundles := make(map[string]map[string]interface{})
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".yaml" {
				continue
			}
			configType := f.Name()[:len(f.Name())-len(".yaml")]
			b, err := os.ReadFile(filepath.Join(dir, flavor, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s/%s: %w", flavor, f.Name(), err)
			}
			values := make(map[string]interface{})
			if err := yaml.Unmarshal(b, &values); err != nil {
				return nil, fmt.Errorf("parse %s/%s: %w", flavor, f.Name(), err)
			}
			bundles[configType] = values
		}
		store.flavors[flavor] = bundles
	}

	if _, ok := store.flavors[DefaultFlavor]; !ok {
		return nil, fmt.Errorf("flavors dir %s has no %q flavor", dir, DefaultFlavor)
	}
	log.Printf("loaded %d config flavors from %s", len(store.flavors), dir)
	return store, nil
}

// NewFlavorStore builds a store from an in-memory mapping. Used by tests and
// by callers that assemble flavors without a directory on disk.
func NewFlavorStore(flavors map[string]map[string]map[string]interface{}) *FlavorStore {
	if flavors == nil {
		flavors = make(map[string]map[string]map[string]interface{})
	}
	return &FlavorStore{flavors: flavors}
}

// Get returns the values for (flavor, configType), falling back to the default
// flavor with a logged warning when the flavor or that specific config file is
// absent. Missing even in default is an error.
func (s *FlavorStore) Get(flavor, configType string) (map[string]interface{}, error) {
	if flavor == "" {
		flavor = DefaultFlavor
	}
	if bundles, ok := s.flavors[flavor]; ok {
		if values, ok := bundles[configType]; ok {
			return values, nil
		}
	}
	if flavor != DefaultFlavor {
		log.Printf("[Flavors] flavor %q has no %q config, falling back to %q", flavor, configType, DefaultFlavor)
		if values, ok := s.flavors[DefaultFlavor][configType]; ok {
			return values, nil
		}
	}
	return nil, fmt.Errorf("no %q config for flavor %q or fallback %q", configType, flavor, DefaultFlavor)
}

// GetString is a convenience accessor for string-valued flavor entries.
func (s *FlavorStore) GetString(flavor, configType, key string) (string, error) {
	values, err := s.Get(flavor, configType)
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("flavor config %s/%s has no key %q", flavor, configType, key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("flavor config %s/%s key %q is not a string", flavor, configType, key)
	}
	return str, nil
}

// Flavors lists the loaded flavor names.
func (s *FlavorStore) Flavors() []string {
	names := make([]string, 0, len(s.flavors))
	for name := range s.flavors {
		names = append(names, name)
	}
	return names
}
