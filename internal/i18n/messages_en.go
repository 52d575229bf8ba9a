package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Player errors
	"error.player.device_not_ready": "The web player is not ready yet. Please try again in a moment.",
	"error.player.activation":       "Your browser blocked audio. Click play again to start playback.",
	"error.player.not_started":      "Playback did not start. Please try again.",
	"error.player.scope":            "Playback control needs extra permissions. Please reconnect your Spotify account.",
	"error.player.initialization":   "The web player failed to load: %s",
	"error.player.authentication":   "The web player could not sign in. Please reconnect your Spotify account.",
	"error.player.account":          "Playback in the browser requires a Spotify Premium account.",
	"error.player.token":            "Could not get a playback token. Please try again.",
	"error.player.command":          "The %s command failed. Please try again.",

	// Non-fatal warnings
	"warning.player.shuffle_not_applied": "Playback started, but shuffle could not be turned %s.",
	"warning.player.repeat_not_applied":  "Playback started, but repeat could not be set to %s.",
}
