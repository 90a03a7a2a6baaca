package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageName returns the English name of a language code, or the code itself.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// Prompt builds the instruction for LLM backends. Titles are sent as a JSON array
// so positions survive the round trip.
func Prompt(sourceLang, targetLang string, texts []string) string {
	list, _ := json.Marshal(texts)
	return fmt.Sprintf(`Translate each of the following %s movie titles into %s.
Translate literally; do not substitute the title the movie is known by in %s.
Keep the order. Return JSON only: {"translations": ["...", "..."]} with exactly %d entries.

%s`, LanguageName(sourceLang), LanguageName(targetLang), LanguageName(targetLang), len(texts), list)
}

// DecodeList reads the translations from an LLM reply, accepting either the
// {"translations": [...]} object or a bare array, optionally inside a markdown fence.
func DecodeList(reply string) ([]string, error) {
	text := CleanJSONBlock(reply)

	var obj struct {
		Translations []string `json:"translations"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj.Translations != nil {
		return obj.Translations, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("failed to decode translations: %w (raw: %s)", err, truncate(text, 200))
	}
	return list, nil
}

// CleanJSONBlock removes a markdown code fence around a JSON reply.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "```json"); start != -1 {
		text = text[start+len("```json"):]
	} else if start := strings.Index(text, "```"); start != -1 {
		text = text[start+len("```"):]
	} else {
		return text
	}
	if end := strings.LastIndex(text, "```"); end != -1 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
