package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"captioner/internal/llm"
)

const translatePrompt = `You are a professional subtitle translator. Translate every subtitle line into %s.
The input is a JSON object mapping line numbers to source lines. Reply with a JSON object using exactly the same keys, each mapped to its translation.
Keep the meaning, tone and register of spoken dialogue. Never merge, split, drop or reorder lines. Do not add explanations.`

const reflectPrompt = `You are a professional subtitle translator. Translate every subtitle line into %s in three steps:
1. "initial": a faithful first translation.
2. "reflection": a short critique of the initial translation (accuracy, fluency, natural spoken style).
3. "final": the improved translation.
The input is a JSON object mapping line numbers to source lines. Reply with a JSON object using exactly the same keys, each mapped to {"initial": ..., "reflection": ..., "final": ...}.
Never merge, split, drop or reorder lines.`

type llmTranslator struct {
	client       *llm.Client
	target       string
	reflect      bool
	customPrompt string
}

type reflectedLine struct {
	Initial    string `json:"initial"`
	Reflection string `json:"reflection"`
	Final      string `json:"final"`
}

func (t *llmTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
	out := make([]string, len(lines))
	pending := make([]int, len(lines))
	for i := range lines {
		pending[i] = i
	}
	// Models occasionally drop keys; ask once more for just the missing lines.
	for attempt := 0; attempt < 2 && len(pending) > 0; attempt++ {
		got, err := t.request(ctx, lines, pending)
		if err != nil {
			return nil, err
		}
		var missing []int
		for _, idx := range pending {
			text, ok := got[idx]
			if !ok || (strings.TrimSpace(text) == "" && strings.TrimSpace(lines[idx]) != "") {
				missing = append(missing, idx)
				continue
			}
			out[idx] = text
		}
		pending = missing
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("llm translate: %d lines missing from response", len(pending))
	}
	return out, nil
}

func (t *llmTranslator) request(ctx context.Context, lines []string, indexes []int) (map[int]string, error) {
	payload := make(map[string]string, len(indexes))
	for _, idx := range indexes {
		payload[strconv.Itoa(idx+1)] = lines[idx]
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm translate: encode lines: %w", err)
	}

	system := fmt.Sprintf(translatePrompt, t.target)
	if t.reflect {
		system = fmt.Sprintf(reflectPrompt, t.target)
	}
	if t.customPrompt != "" {
		system += "\n\nAdditional context from the operator:\n" + t.customPrompt
	}

	result := make(map[int]string, len(indexes))
	if t.reflect {
		var decoded map[string]reflectedLine
		if err := t.client.CompleteJSONInto(ctx, system, string(user), &decoded); err != nil {
			return nil, err
		}
		for key, line := range decoded {
			if n, err := strconv.Atoi(strings.TrimSpace(key)); err == nil {
				final := line.Final
				if strings.TrimSpace(final) == "" {
					final = line.Initial
				}
				result[n-1] = strings.TrimSpace(final)
			}
		}
		return result, nil
	}

	var decoded map[string]string
	if err := t.client.CompleteJSONInto(ctx, system, string(user), &decoded); err != nil {
		return nil, err
	}
	for key, text := range decoded {
		if n, err := strconv.Atoi(strings.TrimSpace(key)); err == nil {
			result[n-1] = strings.TrimSpace(text)
		}
	}
	return result, nil
}

