package tokenizer

import (
	"unicode/utf8"

	"github.com/BaSui01/chatrelay/types"
)

// Estimator is a character-count-based token estimator.
// It distinguishes CJK and ASCII characters for better accuracy
// compared to a naive len/4 approach.
type Estimator struct{}

// NewEstimator creates a generic estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// CountText estimates CJK characters at ~1.5 chars/token and the rest at ~4.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *Estimator) CountMessages(messages []types.Message) int {
	return countMessages(e, messages)
}

func (e *Estimator) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
