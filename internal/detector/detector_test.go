package detector

import (
	"testing"

	"golang.org/x/text/language"
)

func TestDetector_DetectBase(t *testing.T) {
	d := Shared()

	tests := []struct {
		name   string
		text   string
		target string
	}{
		{"french", "Bonjour, ceci est un test en français.", "fr"},
		{"german", "Hallo, das ist ein Test auf Deutsch.", "de"},
		{"japanese", "これは日本語のテストです。設定を保存しました。", "ja"},
		{"simplified chinese", "这是一个中文测试，设置已经保存。", "zh-Hans"},
		{"brazilian portuguese", "Olá, este é um teste em português do Brasil.", "pt-BR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.DetectBase(tt.text)
			if !ok {
				t.Fatalf("DetectBase(%q) detected nothing", tt.text)
			}
			want, _ := language.MustParse(tt.target).Base()
			if got != want {
				t.Errorf("DetectBase(%q) = %v, want base of %s (%v)", tt.text, got, tt.target, want)
			}
		})
	}
}

func TestDetector_DetectBase_Undetectable(t *testing.T) {
	d := Shared()

	for _, text := range []string{"", "   ", "\n\t"} {
		if base, ok := d.DetectBase(text); ok {
			t.Errorf("DetectBase(%q) = %v, expected nothing", text, base)
		}
	}
}

func TestShared_ReturnsOneDetector(t *testing.T) {
	if Shared() != Shared() {
		t.Error("expected Shared to return the same detector")
	}
}
