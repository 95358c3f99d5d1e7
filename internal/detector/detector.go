package detector

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

var (
	sharedOnce sync.Once
	shared     *Detector
)

// Shared returns a process-wide detector, building it on first use. The
// language models are large, so callers should not build their own per job.
func Shared() *Detector {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}

// DetectBase returns the detected language as a BCP 47 base so it can be
// compared with tags such as "zh-Hans" or "pt-BR".
func (d *Detector) DetectBase(text string) (language.Base, bool) {
	code, ok := d.DetectISO(text)
	if !ok {
		return language.Base{}, false
	}
	base, err := language.ParseBase(strings.ToLower(code))
	if err != nil {
		return language.Base{}, false
	}
	return base, true
}
