package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/lingo/internal/language"
)

const (
	// DefaultHTTPEndpoint points to a local translation endpoint.
	DefaultHTTPEndpoint = "http://127.0.0.1:8845/v1"

	httpProviderService = "translation"
)

// HTTPProvider sends batches to a JSON-over-HTTP translation endpoint.
type HTTPProvider struct {
	endpointURL string
	apiKey      string
	client      *http.Client
}

// NewHTTPProviderFromEnv builds an HTTP provider from env vars.
//   - TRANSLATION_ENDPOINT (default: http://127.0.0.1:8845/v1)
//   - TRANSLATION_API_KEY (optional bearer token)
func NewHTTPProviderFromEnv() *HTTPProvider {
	endpoint := strings.TrimSpace(os.Getenv("TRANSLATION_ENDPOINT"))
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}
	return NewHTTPProvider(endpoint, strings.TrimSpace(os.Getenv("TRANSLATION_API_KEY")))
}

// NewHTTPProvider builds an HTTP provider for the given endpoint.
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpointURL: translateURL(normalizeEndpoint(endpoint)),
		apiKey:      apiKey,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *HTTPProvider) Name() string {
	return "http"
}

func (p *HTTPProvider) SupportedLanguages() []string {
	return nil
}

func (p *HTTPProvider) TranslateTexts(ctx context.Context, req BatchRequest) ([]string, error) {
	if p == nil {
		return nil, NewError(KindBatch, httpProviderService, "http provider is nil")
	}
	if len(req.Texts) == 0 {
		return nil, NewError(KindInvalidRequest, httpProviderService, "texts are required")
	}

	targetLang := language.NormalizeCode(req.TargetLang)
	if targetLang == "" {
		return nil, NewError(KindInvalidRequest, httpProviderService, "target language is required")
	}

	textType := req.TextType
	if textType == "" {
		textType = TextTypePlain
	}

	body, err := json.Marshal(httpTranslateRequest{
		Texts:      req.Texts,
		SourceLang: language.NormalizeCode(req.SourceLang),
		TargetLang: targetLang,
		Category:   strings.TrimSpace(req.Category),
		TextType:   textType,
	})
	if err != nil {
		return nil, WrapError(KindParsing, httpProviderService, fmt.Errorf("marshal translation request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(KindInvalidRequest, httpProviderService, fmt.Errorf("build translation request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, Classify(fmt.Errorf("send translation request: %w", err), httpProviderService)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(fmt.Errorf("read translation response: %w", err), httpProviderService)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := ClassifyHTTPStatus(resp.StatusCode, httpProviderService, errorMessageFromBody(respBody))
		if classified.Kind == KindRateLimited {
			classified.RetryAfter = retryAfterFromHeader(resp.Header.Get("Retry-After"))
		}
		return nil, classified
	}

	var parsed httpTranslateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, WrapError(KindParsing, httpProviderService, fmt.Errorf("decode translation response: %w", err))
	}
	if len(parsed.Translations) != len(req.Texts) {
		return nil, NewError(KindParsing, httpProviderService,
			fmt.Sprintf("translation count mismatch: sent %d, received %d", len(req.Texts), len(parsed.Translations)))
	}

	for i, translated := range parsed.Translations {
		if strings.TrimSpace(translated) == "" {
			return nil, NewError(KindParsing, httpProviderService, fmt.Sprintf("translation %d is empty", i))
		}
	}

	return parsed.Translations, nil
}

type httpTranslateRequest struct {
	Texts      []string `json:"texts"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
	Category   string   `json:"category,omitempty"`
	TextType   string   `json:"text_type,omitempty"`
}

type httpTranslateResponse struct {
	Translations []string `json:"translations"`
}

type httpErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func errorMessageFromBody(body []byte) string {
	var payload httpErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func retryAfterFromHeader(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultHTTPEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultHTTPEndpoint
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if parsed.Path == "" {
		parsed.Path = "/v1"
	}
	return parsed.String()
}

func translateURL(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultHTTPEndpoint + "/translate"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/translate"):
		parsed.Path = path
	case path == "":
		parsed.Path = "/v1/translate"
	default:
		parsed.Path = path + "/translate"
	}

	return parsed.String()
}
