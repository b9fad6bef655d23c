package httpapi

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/contextkeys"
	"github.com/platinummonkey/sitework/pkg/plans"
)

var localeMatcher = language.NewMatcher(plans.SupportedLocales)

// negotiateLocale picks a supported locale from an Accept-Language value
func negotiateLocale(accept string) (language.Tag, bool) {
	if accept == "" {
		return language.Und, false
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.Und, false
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return language.Und, false
	}
	return plans.SupportedLocales[idx], true
}

// LocaleMiddleware stores the negotiated locale in the request context.
// Without a match the services use their configured default.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tag, ok := negotiateLocale(r.Header.Get("Accept-Language")); ok {
			r = r.WithContext(contextkeys.WithLocale(r.Context(), tag))
		}
		next.ServeHTTP(w, r)
	})
}
