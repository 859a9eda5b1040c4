// Package security validates free text before it is stored and redacts
// credentials before text is shown or logged.
package security

import (
	"errors"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

var (
	ErrTextTooLong       = errors.New("text exceeds maximum length")
	ErrNullByteDetected  = errors.New("null byte detected in text")
	ErrControlCharacter  = errors.New("control character in text")
	ErrInvalidUTF8       = errors.New("text is not valid UTF-8")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// Field length limits in runes
const (
	MaxNameLength = 200
	MaxShortText  = 500
	MaxLongText   = 4000
	maxRepetition = 64
)

type TextValidator struct {
	MaxLength     int
	MaxRepetition int
	// AllowNewlines permits \n, \r and \t in multi-line fields.
	AllowNewlines bool
}

func NewTextValidator(maxLength int, multiline bool) *TextValidator {
	return &TextValidator{
		MaxLength:     maxLength,
		MaxRepetition: maxRepetition,
		AllowNewlines: multiline,
	}
}

func (v *TextValidator) Validate(input string) error {
	if !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}
	if v.MaxLength > 0 && utf8.RuneCountInString(input) > v.MaxLength {
		return ErrTextTooLong
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if unicode.IsControl(r) && !(v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t')) {
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune = -1
	consecutive := 0
	for _, r := range input {
		if r == prev {
			consecutive++
			if consecutive > maxLen {
				return true
			}
		} else {
			prev = r
			consecutive = 1
		}
	}
	return false
}

// ValidateName checks a single-line field such as a medication name or dosage
func ValidateName(field, input string) error {
	return asValidation(field, NewTextValidator(MaxNameLength, false).Validate(input))
}

// ValidateShortText checks a single-line reason or label
func ValidateShortText(field, input string) error {
	return asValidation(field, NewTextValidator(MaxShortText, false).Validate(input))
}

// ValidateNotes checks a multi-line notes or instructions field
func ValidateNotes(field, input string) error {
	return asValidation(field, NewTextValidator(MaxLongText, true).Validate(input))
}

func asValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Validation(field, err.Error())
}
