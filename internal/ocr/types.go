/**
 * OCR types - shared data structures for text extraction
 */

package ocr

import "time"

// BoundingBox represents pixel coordinates of a recognized region,
// origin in the upper-left corner of the image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Word represents a single recognized token with its position.
type Word struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// Result is the accepted output of one extraction call.
type Result struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"` // in [0,1], strictly above the acceptance threshold
	Words      []Word        `json:"words,omitempty"`
	Language   string        `json:"language"` // resolved language code
	Provider   string        `json:"provider"`
	Duration   time.Duration `json:"duration"`
}

// Language tags accepted by the extraction stage. Unknown tags resolve to
// LanguageDefault.
const (
	LanguageTraditionalEnglish = "chi_tra+eng"
	LanguageSimplifiedEnglish  = "chi_sim+eng"
	LanguageEnglish            = "eng"
	LanguageTraditional        = "chi_tra"
	LanguageSimplified         = "chi_sim"

	LanguageDefault = LanguageTraditionalEnglish
)

var languageCodes = map[string]string{
	LanguageTraditionalEnglish: LanguageTraditionalEnglish,
	LanguageSimplifiedEnglish:  LanguageSimplifiedEnglish,
	LanguageEnglish:            LanguageEnglish,
	LanguageTraditional:        LanguageTraditional,
	LanguageSimplified:         LanguageSimplified,
}

// ResolveLanguage maps a requested language tag to a provider language code.
func ResolveLanguage(tag string) string {
	if code, ok := languageCodes[tag]; ok {
		return code
	}
	return LanguageDefault
}
