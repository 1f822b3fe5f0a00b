package server

import (
	"net/http"

	"github.com/a-h/templ"
)

//go:generate templ generate -f notfound.templ

func notFound(w http.ResponseWriter, r *http.Request) {
	templ.Handler(notFoundPage(r.URL.Path), templ.WithStatus(http.StatusNotFound)).ServeHTTP(w, r)
}
