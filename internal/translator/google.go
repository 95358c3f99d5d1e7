package translator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var googleLanguages = LangMap{
	"zh-Hans": "zh-CN",
	"zh-Hant": "zh-TW",
}

type GoogleService struct {
	credentials string
	projectID   string
}

// NewGoogleService uses application default credentials when credentials
// is empty. projectID, when set, is billed for quota.
func NewGoogleService(credentials, projectID string) *GoogleService {
	return &GoogleService{credentials: credentials, projectID: projectID}
}

func (s *GoogleService) Name() string {
	return "google"
}

func (s *GoogleService) Languages() LangMap {
	return googleLanguages
}

func (s *GoogleService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	targetLangTag, err := language.Parse(req.TargetLang)
	if err != nil {
		result.ErrorCode = "invalid_target"
		result.ErrorMessage = fmt.Sprintf("invalid target language: %v", err)
		return result, nil
	}

	opts := []option.ClientOption{}
	if s.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(s.credentials))
	}
	if s.projectID != "" {
		opts = append(opts, option.WithQuotaProject(s.projectID))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return result, fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	var translateOpts *translate.Options
	if req.SourceLang != "" {
		if sourceLangTag, err := language.Parse(req.SourceLang); err == nil {
			translateOpts = &translate.Options{Source: sourceLangTag}
		}
	}

	translations, err := client.Translate(ctx, []string{req.Text}, targetLangTag, translateOpts)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			result.ErrorCode = strconv.Itoa(apiErr.Code)
			result.ErrorMessage = apiErr.Message
			return result, nil
		}
		return result, fmt.Errorf("translation failed: %w", err)
	}

	if len(translations) == 0 || translations[0].Text == "" {
		result.ErrorMessage = "no translation returned"
		return result, nil
	}

	result.TranslatedText = translations[0].Text
	return result, nil
}

func (s *GoogleService) IsAvailable(ctx context.Context) error {
	return nil
}
