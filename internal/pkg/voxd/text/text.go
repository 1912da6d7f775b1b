// Package text prepares request text for synthesis. Normalize is the
// validation predicate used by the HTTP layer; ExpandForSpeech is the heavier
// spoken-form rewrite applied by TTS backends before phonemization.
package text

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	sentenceRe   = regexp.MustCompile(`[.!?]+`)
)

// Normalize collapses internal whitespace runs to single spaces and trims.
// The result is empty exactly when the input carried no content, which is
// what request validation checks.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSentences splits text into sentence-level units on runs of '.', '!'
// and '?'. Empty units after trimming are discarded. Order is preserved.
func SplitSentences(text string) []string {
	parts := sentenceRe.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// ExpandForSpeech rewrites text into a form TTS models pronounce well:
// numerals, ordinals and dollar amounts become words, typographic quotes and
// dashes become plain punctuation.
func ExpandForSpeech(text string) string {
	text = Normalize(text)
	text = expandCurrency(text)
	text = expandOrdinals(text)
	text = expandNumbers(text)
	text = plainPunctuation(text)
	return Normalize(text)
}

var onesWords = []string{
	"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
	"seventeen", "eighteen", "nineteen",
}

var tensWords = []string{
	"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
}

var scaleWords = []string{"", "thousand", "million", "billion", "trillion"}

func numberToWords(n int64) string {
	if n == 0 {
		return "zero"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	var parts []string
	scaleIndex := 0
	for n > 0 {
		chunk := n % 1000
		if chunk > 0 {
			words := chunkToWords(int(chunk))
			if scaleIndex > 0 && scaleIndex < len(scaleWords) {
				words += " " + scaleWords[scaleIndex]
			}
			parts = append([]string{words}, parts...)
		}
		n /= 1000
		scaleIndex++
	}

	result := strings.Join(parts, " ")
	if negative {
		result = "negative " + result
	}
	return result
}

func chunkToWords(n int) string {
	if n == 0 {
		return ""
	}
	if n < 20 {
		return onesWords[n]
	}
	if n < 100 {
		tens := tensWords[n/10]
		if ones := n % 10; ones != 0 {
			return tens + " " + onesWords[ones]
		}
		return tens
	}
	hundreds := onesWords[n/100] + " hundred"
	if remainder := n % 100; remainder != 0 {
		return hundreds + " " + chunkToWords(remainder)
	}
	return hundreds
}

func parseDigits(s string) int64 {
	var n int64
	for _, c := range s {
		n = n*10 + int64(c-'0')
	}
	return n
}

var numberRe = regexp.MustCompile(`\b(\d{1,15})\b`)

func expandNumbers(text string) string {
	return numberRe.ReplaceAllStringFunc(text, func(match string) string {
		return numberToWords(parseDigits(match))
	})
}

var currencyRe = regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`)

func expandCurrency(text string) string {
	return currencyRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := strings.Split(strings.TrimPrefix(match, "$"), ".")
		dollars := parseDigits(parts[0])
		result := numberToWords(dollars)
		if dollars == 1 {
			result += " dollar"
		} else {
			result += " dollars"
		}
		if len(parts) == 2 && parts[1] != "00" {
			cents := parseDigits(parts[1])
			result += " and " + numberToWords(cents)
			if cents == 1 {
				result += " cent"
			} else {
				result += " cents"
			}
		}
		return result
	})
}

var ordinalRe = regexp.MustCompile(`\b(\d+)(st|nd|rd|th)\b`)

var ordinalWords = map[int64]string{
	1: "first", 2: "second", 3: "third", 4: "fourth", 5: "fifth",
	6: "sixth", 7: "seventh", 8: "eighth", 9: "ninth", 10: "tenth",
	11: "eleventh", 12: "twelfth", 13: "thirteenth", 14: "fourteenth",
	15: "fifteenth", 16: "sixteenth", 17: "seventeenth", 18: "eighteenth",
	19: "nineteenth", 20: "twentieth", 30: "thirtieth", 40: "fortieth",
	50: "fiftieth", 60: "sixtieth", 70: "seventieth", 80: "eightieth",
	90: "ninetieth",
}

func expandOrdinals(text string) string {
	return ordinalRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := ordinalRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		n := parseDigits(parts[1])
		if word, ok := ordinalWords[n]; ok {
			return word
		}
		if n > 20 && n < 100 {
			tens := (n / 10) * 10
			ones := n % 10
			if ones == 0 {
				if word, ok := ordinalWords[tens]; ok {
					return word
				}
			} else if word, ok := ordinalWords[ones]; ok {
				return tensWords[n/10] + " " + word
			}
		}
		return numberToWords(n) + "th"
	})
}

var punctReplacer = strings.NewReplacer(
	"“", "\"", "”", "\"",
	"‘", "'", "’", "'",
	"«", "\"", "»", "\"",
	"—", ", ", "–", ", ",
	"…", "...", "•", ",",
)

func plainPunctuation(text string) string {
	return punctReplacer.Replace(text)
}
