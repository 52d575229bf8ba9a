// Package i18n provides translations for the player errors shown to users
package i18n

import (
	"fmt"
	"slices"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	// BerneseGermanMessages is a Swiss Dialect spoken in the Canton of Bern
	BerneseGermanMessages = "ch_be"
)

// Message keys written into the player error field.
const (
	KeyDeviceNotReady    = "error.player.device_not_ready"
	KeyActivation        = "error.player.activation"
	KeyNotStarted        = "error.player.not_started"
	KeyScope             = "error.player.scope"
	KeyInitialization    = "error.player.initialization"
	KeyAuthentication    = "error.player.authentication"
	KeyAccount           = "error.player.account"
	KeyToken             = "error.player.token"
	KeyCommand           = "error.player.command"
	KeyShuffleNotApplied = "warning.player.shuffle_not_applied"
	KeyRepeatNotApplied  = "warning.player.repeat_not_applied"
)

// Localizer provides translation functionality
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer creates a new localizer for the specified language
func NewLocalizer(language string) *Localizer {
	return &Localizer{
		language: language,
		messages: getMessages(language),
	}
}

// T translates a message key, with optional parameters for formatting
func (l *Localizer) T(key string, args ...any) string {
	if message, exists := l.messages[key]; exists {
		return format(message, args)
	}

	// Fallback to English if key not found in current language
	if l.language != DefaultLanguage {
		if fallbackMessage, exists := getMessages(DefaultLanguage)[key]; exists {
			return format(fallbackMessage, args)
		}
	}

	return key
}

func format(message string, args []any) string {
	if len(args) > 0 {
		return fmt.Sprintf(message, args...)
	}
	return message
}

// GetSupportedLanguages returns list of supported language codes
func GetSupportedLanguages() []string {
	return []string{DefaultLanguage, BerneseGermanMessages}
}

// IsSupported reports whether a language code has a message profile
func IsSupported(language string) bool {
	return slices.Contains(GetSupportedLanguages(), language)
}

// getMessages returns the message map for a given language
func getMessages(language string) map[string]string {
	switch language {
	case BerneseGermanMessages:
		return berneseGermanMessages
	default:
		return englishMessages
	}
}
