package i18n

// berneseGermanMessages contains all Bernese Swiss German (Bärndütsch) translations
var berneseGermanMessages = map[string]string{
	// Player errors
	"error.player.device_not_ready": "Dr Webplayer isch no nid parat. Probier's grad nomau.",
	"error.player.activation":       "Dä Browser het dr Ton blockiert. Drück nomau uf Play.",
	"error.player.not_started":      "D Wiedergab het nid agfange. Probier's nomau.",
	"error.player.scope":            "Für d Stüürig bruchts meh Rächt. Verbind di Spotify-Konto nomau.",
	"error.player.initialization":   "Dr Webplayer het nid chönne lade: %s",
	"error.player.authentication":   "Dr Webplayer het sech nid chönne amäude. Verbind di Spotify-Konto nomau.",
	"error.player.account":          "Für d Wiedergab im Browser bruchsch Spotify Premium.",
	"error.player.token":            "Ha kes Wiedergab-Token übercho. Probier's nomau.",
	"error.player.command":          "Dr Befäu %s het nid funktioniert. Probier's nomau.",

	// Non-fatal warnings
	"warning.player.shuffle_not_applied": "D Wiedergab louft, aber Shuffle het nid chönne %s gschautet wärde.",
	"warning.player.repeat_not_applied":  "D Wiedergab louft, aber Repeat het nid chönne uf %s gsetzt wärde.",
}
