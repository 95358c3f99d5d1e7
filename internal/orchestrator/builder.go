package orchestrator

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/translator"
)

// ResolveSource returns the first source language, in preference order,
// for which the entry holds a non-null value.
func ResolveSource(entry internal.Entry, sources []string) (lang, text string, ok bool) {
	for _, src := range sources {
		if v, present := entry.Value(src); present {
			return src, v, true
		}
	}
	return "", "", false
}

// BuildItems expands a batch job into work items, one per entry and
// eligible target. Entries without a source value are skipped; so are
// targets equal to the source and, in fix mode, targets that already hold
// text.
func BuildItems(job internal.Job, langs translator.LangMap, logger zerolog.Logger) []internal.WorkItem {
	var items []internal.WorkItem

	for _, entry := range job.Entries {
		srcLang, srcText, ok := ResolveSource(entry, job.Sources)
		if !ok {
			logger.Debug().Str("key", entry.Key).Msg("no source value, entry skipped")
			continue
		}

		for _, target := range job.Targets {
			if target == srcLang {
				continue
			}
			if job.Mode == internal.ModeFix {
				if existing, present := entry.Value(target); present && existing != "" {
					logger.Debug().
						Str("key", entry.Key).
						Str("target", target).
						Msg("already translated, skipped")
					continue
				}
			}
			items = append(items, newItem(job.ID, len(items), entry.Key, srcLang, srcText, target, langs))
		}
	}

	return items
}

// BuildKeyedItems expands a keyed submission. Keys are visited in sorted
// order so items start deterministically; every listed target becomes an
// item.
func BuildKeyedItems(jobID string, reqs map[string]internal.KeyedRequest, langs translator.LangMap) []internal.WorkItem {
	keys := make([]string, 0, len(reqs))
	for k := range reqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []internal.WorkItem
	for _, key := range keys {
		req := reqs[key]
		for _, target := range req.Targets {
			items = append(items, newItem(jobID, len(items), key, req.From, req.Text, target, langs))
		}
	}
	return items
}

func newItem(jobID string, seq int, key, srcLang, srcText, target string, langs translator.LangMap) internal.WorkItem {
	return internal.WorkItem{
		JobID:        jobID,
		Seq:          seq,
		Key:          key,
		SourceLang:   srcLang,
		SourceText:   srcText,
		TargetLang:   target,
		ProviderFrom: langs.Resolve(srcLang),
		ProviderTo:   langs.Resolve(target),
	}
}
