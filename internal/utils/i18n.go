package utils

// Server-side messages for fixed keys. Validation details stay in English;
// only the short hint next to them is translated.
var translations = map[string]map[string]string{
	"en": {
		"health.ok":          "ok",
		"error.invalid":      "Please check your answers and try again.",
		"error.pii":          "Check-ins are anonymous. Remove email addresses and phone numbers.",
		"error.conflict":     "This action is not possible right now.",
		"error.not_found":    "Not found.",
		"error.unauthorized": "Sign in as an editor to continue.",
		"error.internal":     "Something went wrong. Please try again later.",
	},
	"fr": {
		"health.ok":          "ok",
		"error.invalid":      "Veuillez vérifier vos réponses et réessayer.",
		"error.pii":          "Les réponses sont anonymes. Retirez les adresses e-mail et numéros de téléphone.",
		"error.conflict":     "Cette action n'est pas possible pour le moment.",
		"error.not_found":    "Introuvable.",
		"error.unauthorized": "Connectez-vous en tant qu'éditeur pour continuer.",
		"error.internal":     "Une erreur est survenue. Veuillez réessayer plus tard.",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
