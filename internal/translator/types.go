package translator

import (
	"context"
	"time"
)

type ServiceConfig struct {
	Credentials string        `mapstructure:"credentials" json:"credentials"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	BaseURL     string        `mapstructure:"url" json:"url"`
	Email       string        `mapstructure:"email" json:"email"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	ProjectID   string        `mapstructure:"project_id" json:"project_id"`
}

// TranslateRequest carries provider language codes, already remapped.
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// ServiceResult is a usable provider response. An empty TranslatedText
// means the provider answered but rejected the request; ErrorCode and
// ErrorMessage then describe why.
type ServiceResult struct {
	ServiceName    string            `json:"service_name"`
	TranslatedText string            `json:"translated_text"`
	ErrorCode      string            `json:"error_code,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Latency        time.Duration     `json:"latency"`
}

// Rejected reports whether the provider answered without a translation.
func (r *ServiceResult) Rejected() bool {
	return r == nil || r.TranslatedText == ""
}

// TranslationService is the transport collaborator for one provider.
// Translate returns an error only when no usable response was obtained
// (network failure, timeout, undecodable body); provider-level rejections
// come back as a ServiceResult with an empty TranslatedText.
type TranslationService interface {
	Name() string
	Languages() LangMap
	Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error)
	IsAvailable(ctx context.Context) error
}
