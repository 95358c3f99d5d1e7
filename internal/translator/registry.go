package translator

import (
	"fmt"
	"sort"
)

type factory func(cfg ServiceConfig) TranslationService

var factories = map[string]factory{
	"niutrans": func(cfg ServiceConfig) TranslationService {
		return NewNiuTransService(cfg.APIKey, cfg.BaseURL)
	},
	"google": func(cfg ServiceConfig) TranslationService {
		return NewGoogleService(cfg.Credentials, cfg.ProjectID)
	},
	"mymemory": func(cfg ServiceConfig) TranslationService {
		svc := NewMyMemoryService(cfg.Email)
		if cfg.BaseURL != "" {
			svc.baseURL = cfg.BaseURL
		}
		return svc
	},
	"systran": func(cfg ServiceConfig) TranslationService {
		svc := NewSystranService(cfg.APIKey)
		if cfg.BaseURL != "" {
			svc.baseURL = cfg.BaseURL
		}
		return svc
	},
}

// Build constructs the named provider.
func Build(name string, cfg ServiceConfig) (TranslationService, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return f(cfg), nil
}

// Names returns the known provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
