// Package validation provides user code validation utilities for the device flow
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Validation settings
const (
	MinLength  = 8  // Minimum total length excluding separator
	MaxLength  = 12 // Maximum total length excluding separator
	MinEntropy = 2  // Minimum required Shannon entropy in bits
)

// ValidCharset contains the allowed characters for user codes
const ValidCharset = "BCDFGHJKLMNPQRSTVWXZ" // Excludes vowels and similar-looking characters

// Displayed codes are two equal groups joined by a hyphen; the hyphen is optional on input.
var codeRegex = regexp.MustCompile(fmt.Sprintf("^[%s]+-?[%s]+$", ValidCharset, ValidCharset))

// ValidationError represents a code validation error
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid user code %q: %s", e.Code, e.Message)
}

// ValidateUserCode checks if a user code meets all requirements.
// Both the display form (WDJB-MJHT) and the canonical form (WDJBMJHT) are accepted.
func ValidateUserCode(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))

	// Length first to give the most specific error
	baseCode := strings.ReplaceAll(code, "-", "")
	if len(baseCode) < MinLength || len(baseCode) > MaxLength || len(baseCode)%2 != 0 {
		return &ValidationError{
			Code:    code,
			Message: fmt.Sprintf("length must be an even number between %d and %d characters", MinLength, MaxLength),
		}
	}

	if !codeRegex.MatchString(code) {
		return &ValidationError{
			Code:    code,
			Message: "code must use only allowed characters",
		}
	}
	if i := strings.IndexByte(code, '-'); i >= 0 && i != len(baseCode)/2 {
		return &ValidationError{
			Code:    code,
			Message: "separator must split the code into two equal groups",
		}
	}

	charCounts := make(map[rune]int)
	maxAllowedRepeats := (len(baseCode) / 2) + 1
	for _, char := range baseCode {
		charCounts[char]++
		if charCounts[char] > maxAllowedRepeats {
			return &ValidationError{
				Code:    code,
				Message: "too many repeated characters",
			}
		}
	}

	// Entropy last since it's most expensive
	if entropy := calculateEntropy(baseCode); entropy < MinEntropy {
		return &ValidationError{
			Code:    code,
			Message: fmt.Sprintf("code entropy %.2f bits is below required minimum %d bits", entropy, MinEntropy),
		}
	}

	return nil
}

// calculateEntropy calculates the Shannon entropy of the code in bits
func calculateEntropy(code string) float64 {
	if code == "" {
		return 0
	}

	freqs := make(map[rune]int)
	for _, char := range code {
		freqs[char]++
	}

	length := float64(len(code))
	entropy := 0.0
	for _, count := range freqs {
		prob := float64(count) / length
		entropy -= prob * math.Log2(prob)
	}

	return entropy
}

// NormalizeCode converts a user code to canonical format
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

// FormatCode converts a normalized code back to display format
func FormatCode(code string) string {
	if len(code) < MinLength {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
