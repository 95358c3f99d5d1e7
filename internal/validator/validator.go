// Package validator checks that a translation is written in its target language.
package validator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/valpere/batchtran/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Validator compares the detected language of a translation with the base
// language of the requested target tag, so "zh-Hans" accepts text detected
// as Chinese and "pt-BR" accepts Portuguese.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by the shared lingua-go detector.
func New() *Validator {
	return &Validator{det: detector.Shared()}
}

// IsValid returns true when translatedText appears to be written in targetLang.
//
// Short texts, undetectable texts and unparsable target tags pass. When the
// detected base language differs the returned error names both.
func (v *Validator) IsValid(translatedText, targetLang string) (bool, error) {
	if targetLang == "" {
		return true, nil
	}

	text := strings.TrimSpace(translatedText)
	if text == "" {
		return false, fmt.Errorf("translation is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return true, nil
	}

	tag, err := language.Parse(targetLang)
	if err != nil {
		return true, nil
	}
	want, _ := tag.Base()

	got, ok := v.det.DetectBase(text)
	if !ok {
		return true, nil
	}

	if got != want {
		return false, fmt.Errorf("expected %s but detected %s", want, got)
	}
	return true, nil
}
