package translator

import (
	"context"
	"time"
)

// Memory is the translation memory consulted by CachedService. Entries are
// kept per service, so switching providers never serves another provider's
// output.
type Memory interface {
	GetCachedTranslation(ctx context.Context, sourceText, sourceLang, targetLang, service string) (string, bool, error)
	SaveToMemory(ctx context.Context, sourceText, sourceLang, targetLang, finalText, serviceUsed string) error
}

// CachedService answers from translation memory when it can. It never
// stores what the wrapped service returns: a caller that accepts a result
// hands it back through Remember.
type CachedService struct {
	TranslationService
	memory Memory
}

func NewCachedService(svc TranslationService, memory Memory) *CachedService {
	return &CachedService{TranslationService: svc, memory: memory}
}

func (s *CachedService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	start := time.Now()
	if cached, found, err := s.memory.GetCachedTranslation(ctx, req.Text, req.SourceLang, req.TargetLang, s.Name()); err == nil && found {
		return &ServiceResult{
			ServiceName:    s.Name(),
			TranslatedText: cached,
			Metadata:       map[string]string{"cache": "hit"},
			Latency:        time.Since(start),
		}, nil
	}
	return s.TranslationService.Translate(ctx, req)
}

// Remember stores an accepted translation of req. Cache hits are not
// stored again.
func (s *CachedService) Remember(ctx context.Context, req TranslateRequest, result *ServiceResult) error {
	if result == nil || result.Rejected() || result.Metadata["cache"] == "hit" {
		return nil
	}
	return s.memory.SaveToMemory(ctx, req.Text, req.SourceLang, req.TargetLang, result.TranslatedText, s.Name())
}
