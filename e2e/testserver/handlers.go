package testserver

import (
	"fmt"
	"net/http"
	"strings"
)

// Handlers provides reusable response handlers.
type Handlers struct{}

// Page returns a handler serving an HTML page that sets the given cookies and
// loads each of embeds as a script.
func (Handlers) Page(title string, setCookies []string, embeds ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range setCookies {
			w.Header().Add("Set-Cookie", c)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		var scripts strings.Builder
		for _, src := range embeds {
			fmt.Fprintf(&scripts, "<script src=%q></script>\n", src)
		}
		fmt.Fprintf(w, "<!doctype html>\n<html><head><title>%s</title>\n%s</head><body>%s</body></html>\n",
			title, scripts.String(), title)
	}
}

// Script returns a handler serving an empty script that sets the given
// cookies.
func (Handlers) Script(setCookies ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range setCookies {
			w.Header().Add("Set-Cookie", c)
		}
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte("/* tracker */\n"))
	}
}

// DocumentCookie returns a handler serving a page that writes cookies from
// script instead of a response header.
func (Handlers) DocumentCookie(cookies ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var js strings.Builder
		for _, c := range cookies {
			fmt.Fprintf(&js, "document.cookie = %q;\n", c)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html>\n<html><head><script>\n%s</script></head><body>script cookies</body></html>\n", js.String())
	}
}

// Status returns a handler that responds with just a status code.
func (Handlers) Status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}
