package translation

import (
	"context"
	"fmt"

	"horse.fit/lingo/internal/language"
)

// EchoProvider returns inputs tagged with the target language. It exists for
// development and smoke tests where no real backend is reachable.
type EchoProvider struct{}

func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

func (p *EchoProvider) Name() string {
	return "echo"
}

func (p *EchoProvider) SupportedLanguages() []string {
	return nil
}

func (p *EchoProvider) TranslateTexts(_ context.Context, req BatchRequest) ([]string, error) {
	targetLang := language.NormalizeCode(req.TargetLang)
	if targetLang == "" {
		return nil, NewError(KindInvalidRequest, "translation", "target language is required")
	}

	out := make([]string, len(req.Texts))
	for i, text := range req.Texts {
		out[i] = fmt.Sprintf("[%s] %s", targetLang, text)
	}
	return out, nil
}
