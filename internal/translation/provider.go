package translation

import "context"

// Text types accepted by the backend.
const (
	TextTypePlain = "plain"
	TextTypeHTML  = "html"
)

// BatchRequest carries one homogeneous batch to the backend: every text shares
// the same language pair.
type BatchRequest struct {
	Texts      []string
	SourceLang string // empty = let the backend detect
	TargetLang string
	Category   string
	TextType   string // "plain" or "html"
}

// Provider performs the actual backend call for a batch of texts. The returned
// slice must contain one translation per input text, in order.
type Provider interface {
	TranslateTexts(ctx context.Context, req BatchRequest) ([]string, error)
	Name() string
	SupportedLanguages() []string
}
