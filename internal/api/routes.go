package api

import (
	"net/http"
	"strings"
)

// allowMethods is the Access-Control-Allow-Methods value of the image API.
const allowMethods = "OPTIONS,GET,POST,DELETE"

// endpoint maps request paths to low-cardinality endpoint names:
// GET /images/3f2a.../results -> "GET /images/*/results".
func endpoint(r *http.Request) string {
	return normalizeEndpoint(r.Method, r.URL.Path)
}

func normalizeEndpoint(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "images" {
		parts[1] = "*"
	}
	return method + " /" + strings.Join(parts, "/")
}
