package swagger

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

// SpecPath is where the router serves the OpenAPI document.
const SpecPath = "/openapi.yml"

func Handler() http.Handler {
	return httpSwagger.Handler(httpSwagger.URL(SpecPath))
}

// SpecHandler serves the embedded OpenAPI document.
func SpecHandler(doc []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(doc)
	}
}
