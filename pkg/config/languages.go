package config

// defaultLanguages maps a source language to the opus-mt model that translates it.
// Several codes share one multilingual model on purpose: "ROMANCE", "mul", "gmq", "grk".
var defaultLanguages = map[string]string{
	"ar": "ar",
	"be": "mul",
	"cs": "cs",
	"da": "da",
	"de": "de",
	"el": "grk",
	"es": "es",
	"et": "et",
	"fi": "fi",
	"fr": "fr",
	"hi": "hi",
	"hu": "hu",
	"id": "id",
	"is": "is",
	"it": "it",
	"ja": "ja",
	"ka": "ka",
	"ko": "ko",
	"lv": "lv",
	"nb": "gmq",
	"nl": "nl",
	"no": "da",
	"pl": "pl",
	"ro": "ROMANCE",
	"ru": "ru",
	"sk": "sk",
	"sq": "sq",
	"sv": "sv",
	"sw": "mul",
	"th": "th",
	"to": "to",
	"tr": "tr",
	"uk": "uk",
	"vi": "vi",
	"zh": "zh",
}

// DefaultLanguages returns a copy of the built-in language table.
func DefaultLanguages() map[string]string {
	m := make(map[string]string, len(defaultLanguages))
	for k, v := range defaultLanguages {
		m[k] = v
	}
	return m
}
