package translate

import "context"

// Translator translates one batch of lines. The result has one entry per
// input line, in order.
type Translator interface {
	Translate(ctx context.Context, lines []string) ([]string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, lines []string) ([]string, error)

func (f TranslatorFunc) Translate(ctx context.Context, lines []string) ([]string, error) {
	return f(ctx, lines)
}
