package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultNiuTransURL = "https://api.niutrans.com/NiuTransServer/translation"

var niuTransLanguages = LangMap{
	"zh-Hans": "zh",
	"zh-Hant": "cht",
}

type NiuTransService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewNiuTransService(apiKey, baseURL string) *NiuTransService {
	if baseURL == "" {
		baseURL = defaultNiuTransURL
	}
	return &NiuTransService{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *NiuTransService) Name() string {
	return "niutrans"
}

func (s *NiuTransService) Languages() LangMap {
	return niuTransLanguages
}

// flexString decodes a JSON string or number into its textual form; the
// API reports error_code either way.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func (s *NiuTransService) Translate(ctx context.Context, req TranslateRequest) (*ServiceResult, error) {
	result := &ServiceResult{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	if s.apiKey == "" {
		return result, fmt.Errorf("NiuTrans API key required")
	}

	form := url.Values{}
	form.Set("from", req.SourceLang)
	form.Set("to", req.TargetLang)
	form.Set("apikey", s.apiKey)
	form.Set("src_text", req.Text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return result, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("failed to read response: %w", err)
	}

	var niuResp struct {
		TgtText   string     `json:"tgt_text"`
		ErrorCode flexString `json:"error_code"`
		ErrorMsg  string     `json:"error_msg"`
	}
	if err := json.Unmarshal(body, &niuResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			result.ErrorCode = fmt.Sprintf("%d", resp.StatusCode)
			result.ErrorMessage = strings.TrimSpace(string(body))
			return result, nil
		}
		return result, fmt.Errorf("failed to decode response: %w", err)
	}

	if niuResp.TgtText == "" {
		result.ErrorCode = string(niuResp.ErrorCode)
		result.ErrorMessage = niuResp.ErrorMsg
		if result.ErrorCode == "" && resp.StatusCode != http.StatusOK {
			result.ErrorCode = fmt.Sprintf("%d", resp.StatusCode)
		}
		if result.ErrorMessage == "" {
			result.ErrorMessage = "empty translation response"
		}
		return result, nil
	}

	result.TranslatedText = niuResp.TgtText
	return result, nil
}

func (s *NiuTransService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("NiuTrans API key not configured")
	}
	return nil
}
