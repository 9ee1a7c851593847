package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/Pulse/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// LocaleCookie is set by the public site when a reader picks a language.
const LocaleCookie = "pulse_lang"

// LocaleMiddleware picks the response locale from ?lang=, the pulse_lang
// cookie or Accept-Language, in that order. It stores the locale in the
// request context and echoes it as Content-Language.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		explicit := r.URL.Query().Get("lang")
		if explicit == "" {
			if c, err := r.Cookie(LocaleCookie); err == nil {
				explicit = c.Value
			}
		}
		locale := utils.DetermineLocale(explicit, r.Header.Get("Accept-Language"), utils.SupportedLocales, "en")
		w.Header().Set("Content-Language", locale)
		ctx := context.WithValue(r.Context(), localeKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LocaleFromContext retrieves the locale stored by LocaleMiddleware.
func LocaleFromContext(ctx context.Context) string {
	if v := ctx.Value(localeKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "en"
}
