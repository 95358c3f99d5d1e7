package translator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeMemory struct {
	entries map[string]string
	saves   int
}

func (m *fakeMemory) key(text, src, tgt, service string) string {
	return service + "|" + src + "|" + tgt + "|" + text
}

func (m *fakeMemory) GetCachedTranslation(_ context.Context, text, src, tgt, service string) (string, bool, error) {
	v, ok := m.entries[m.key(text, src, tgt, service)]
	return v, ok, nil
}

func (m *fakeMemory) SaveToMemory(_ context.Context, text, src, tgt, final, service string) error {
	m.saves++
	m.entries[m.key(text, src, tgt, service)] = final
	return nil
}

type countingService struct {
	name   string
	result *ServiceResult
	err    error
	calls  atomic.Int32
}

func (s *countingService) Name() string {
	if s.name == "" {
		return "counting"
	}
	return s.name
}
func (s *countingService) Languages() LangMap { return LangMap{} }
func (s *countingService) IsAvailable(context.Context) error {
	return nil
}

func (s *countingService) Translate(context.Context, TranslateRequest) (*ServiceResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func TestCachedService_RememberThenHit(t *testing.T) {
	mem := &fakeMemory{entries: map[string]string{}}
	inner := &countingService{result: &ServiceResult{ServiceName: "counting", TranslatedText: "Salut"}}
	svc := NewCachedService(inner, mem)
	req := TranslateRequest{Text: "Hi", SourceLang: "en", TargetLang: "fr"}
	ctx := context.Background()

	first, err := svc.Translate(ctx, req)
	if err != nil || first.TranslatedText != "Salut" {
		t.Fatalf("unexpected first result %+v, %v", first, err)
	}
	if mem.saves != 0 {
		t.Fatalf("expected nothing stored before Remember, got %d saves", mem.saves)
	}
	if err := svc.Remember(ctx, req, first); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	second, err := svc.Translate(ctx, req)
	if err != nil || second.TranslatedText != "Salut" {
		t.Fatalf("unexpected second result %+v, %v", second, err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls.Load())
	}
	if second.Metadata["cache"] != "hit" {
		t.Errorf("expected cache hit metadata, got %v", second.Metadata)
	}

	if err := svc.Remember(ctx, req, second); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if mem.saves != 1 {
		t.Errorf("expected a cache hit not to be stored again, got %d saves", mem.saves)
	}
}

func TestCachedService_UnrememberedResultMisses(t *testing.T) {
	mem := &fakeMemory{entries: map[string]string{}}
	inner := &countingService{result: &ServiceResult{TranslatedText: "Hi"}}
	svc := NewCachedService(inner, mem)
	req := TranslateRequest{Text: "Hi", SourceLang: "en", TargetLang: "fr"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Translate(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("expected both calls to reach the provider, got %d", inner.calls.Load())
	}
}

func TestCachedService_RememberSkipsFailures(t *testing.T) {
	mem := &fakeMemory{entries: map[string]string{}}
	svc := NewCachedService(&countingService{}, mem)
	req := TranslateRequest{Text: "Hi", SourceLang: "en", TargetLang: "fr"}

	if err := svc.Remember(context.Background(), req, &ServiceResult{ErrorCode: "X"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Remember(context.Background(), req, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broken := NewCachedService(&countingService{err: errors.New("timeout")}, mem)
	if _, err := broken.Translate(context.Background(), req); err == nil {
		t.Error("expected transport error to pass through")
	}

	if mem.saves != 0 {
		t.Errorf("expected no saves, got %d", mem.saves)
	}
}

func TestCachedService_MemoryIsPerService(t *testing.T) {
	mem := &fakeMemory{entries: map[string]string{}}
	req := TranslateRequest{Text: "Hi", SourceLang: "en", TargetLang: "fr"}

	niutrans := NewCachedService(&countingService{name: "niutrans"}, mem)
	if err := niutrans.Remember(context.Background(), req, &ServiceResult{TranslatedText: "Salut"}); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	google := &countingService{name: "google", result: &ServiceResult{TranslatedText: "Bonjour"}}
	res, err := NewCachedService(google, mem).Translate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TranslatedText != "Bonjour" || google.calls.Load() != 1 {
		t.Errorf("expected google to be called, got %q after %d calls", res.TranslatedText, google.calls.Load())
	}
}

func TestLangMap_Merge(t *testing.T) {
	base := LangMap{"zh-Hans": "zh", "zh-Hant": "cht"}
	merged := base.Merge(map[string]string{"zh-Hant": "zh-TW", "pt-BR": "pt"})

	if merged.Resolve("zh-Hant") != "zh-TW" {
		t.Errorf("expected override zh-TW, got %q", merged.Resolve("zh-Hant"))
	}
	if merged.Resolve("pt-BR") != "pt" {
		t.Errorf("expected added pt, got %q", merged.Resolve("pt-BR"))
	}
	if base.Resolve("zh-Hant") != "cht" {
		t.Error("Merge must not modify the receiver")
	}
	codes := merged.Codes()
	if len(codes) != 3 || codes[0] != "pt-BR" {
		t.Errorf("expected sorted codes, got %v", codes)
	}
}

func TestLangMap_CaseInsensitive(t *testing.T) {
	base := LangMap{"zh-Hans": "zh", "zh-Hant": "cht"}

	if got := base.Resolve("ZH-hans"); got != "zh" {
		t.Errorf("expected case-insensitive lookup, got %q", got)
	}

	// Config loaders lowercase keys.
	merged := base.Merge(map[string]string{"zh-hant": "zh-TW"})
	if len(merged) != 2 {
		t.Errorf("expected override to replace the existing code, got %v", merged)
	}
	if got := merged.Resolve("zh-Hant"); got != "zh-TW" {
		t.Errorf("expected zh-TW, got %q", got)
	}
}
