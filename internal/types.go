package internal

import "time"

// Mode selects which targets of an entry are (re)translated.
type Mode string

const (
	// ModeAll retranslates every eligible target.
	ModeAll Mode = "all"
	// ModeFix skips targets that already hold a non-empty value.
	ModeFix Mode = "fix"
)

// ParseMode maps the caller's operate value onto a Mode. Anything other
// than "fix" falls back to ModeAll.
func ParseMode(operate string) Mode {
	if Mode(operate) == ModeFix {
		return ModeFix
	}
	return ModeAll
}

// Entry is one localizable string owned by the caller.
type Entry struct {
	Key   string `json:"key" yaml:"key"`
	Const string `json:"const,omitempty" yaml:"const,omitempty"`
	// Strings maps a language code to its current value. A nil value means
	// the language is present but null.
	Strings map[string]*string `json:"strings" yaml:"strings"`
}

// Value returns the entry's value for lang and whether it is non-null.
func (e Entry) Value(lang string) (string, bool) {
	v, ok := e.Strings[lang]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// BatchParams is the batch translation submission. Nil fields mean the
// caller omitted them (or sent null).
type BatchParams struct {
	Operate *string  `json:"operate" yaml:"operate"`
	Sources []string `json:"sources" yaml:"sources"`
	Targets []string `json:"targets" yaml:"targets"`
	Strings []Entry  `json:"strings" yaml:"strings"`
}

// KeyedRequest is one element of the keyed translate submission.
type KeyedRequest struct {
	From    string   `json:"from" yaml:"from"`
	Text    string   `json:"text" yaml:"text"`
	Targets []string `json:"targets" yaml:"targets"`
}

// Job is the immutable, validated form of a submission.
type Job struct {
	ID        string
	TaskID    string
	Kind      string
	Mode      Mode
	Sources   []string
	Targets   []string
	Entries   []Entry
	CreatedAt time.Time
}

// Job kinds.
const (
	KindBatch = "batch"
	KindKeyed = "keyed"
)

// WorkItem is one (entry, target language) pair requiring translation.
type WorkItem struct {
	JobID        string
	Seq          int
	Key          string
	SourceLang   string
	SourceText   string
	TargetLang   string
	ProviderFrom string
	ProviderTo   string
}

// ResultString is one merged translation fragment.
type ResultString struct {
	Key    string `json:"key"`
	Target string `json:"target"`
	Result string `json:"result"`
}

// Reply is what the engine delivers back to the caller.
type Reply struct {
	Strings []ResultString               `json:"strings,omitempty"`
	Results map[string]map[string]string `json:"results,omitempty"`
	Total   int                          `json:"total"`
	Deal    int                          `json:"deal"`
	Error   string                       `json:"error,omitempty"`
	Done    bool                         `json:"done,omitempty"`
}

// Progress is a snapshot of a job's counters.
type Progress struct {
	Total   int  `json:"total"`
	Deal    int  `json:"deal"`
	Dropped int  `json:"dropped"`
	Sealed  bool `json:"sealed"`
}

// Complete reports whether no further outcomes are expected.
func (p Progress) Complete() bool {
	return p.Sealed && p.Deal+p.Dropped == p.Total
}

// Summary is the final account of a finished job.
type Summary struct {
	JobID      string        `json:"job_id"`
	TaskID     string        `json:"task_id"`
	Total      int           `json:"total"`
	Deal       int           `json:"deal"`
	Dropped    int           `json:"dropped"`
	Translated int           `json:"translated"`
	Failed     int           `json:"failed"`
	Canceled   bool          `json:"canceled"`
	Duration   time.Duration `json:"duration"`
}

// Item statuses recorded in job history.
const (
	StatusTranslated = "translated"
	StatusFailed     = "failed"
)

// ItemOutcome is the recorded result of one WorkItem.
type ItemOutcome struct {
	JobID      string        `json:"job_id"`
	Seq        int           `json:"seq"`
	Key        string        `json:"key"`
	SourceLang string        `json:"source_lang"`
	TargetLang string        `json:"target_lang"`
	SourceText string        `json:"source_text"`
	Result     string        `json:"result,omitempty"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Service    string        `json:"service,omitempty"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
}
