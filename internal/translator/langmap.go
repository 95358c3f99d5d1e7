package translator

import (
	"sort"
	"strings"
)

// LangMap translates internal language codes into a provider's codes.
// Codes absent from the map pass through unchanged. Lookups ignore case,
// as language tags do.
type LangMap map[string]string

func (m LangMap) Resolve(code string) string {
	if mapped, ok := m[code]; ok && mapped != "" {
		return mapped
	}
	for k, mapped := range m {
		if mapped != "" && strings.EqualFold(k, code) {
			return mapped
		}
	}
	return code
}

// Merge returns a new map holding m overlaid with over. An override whose
// code differs from an existing one only in case replaces it.
func (m LangMap) Merge(over map[string]string) LangMap {
	out := make(LangMap, len(m)+len(over))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range over {
		for existing := range out {
			if existing != k && strings.EqualFold(existing, k) {
				delete(out, existing)
				k = existing
				break
			}
		}
		out[k] = v
	}
	return out
}

// Codes returns the internal codes the map knows about, sorted.
func (m LangMap) Codes() []string {
	codes := make([]string, 0, len(m))
	for k := range m {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	return codes
}
