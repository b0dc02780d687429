package openapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Handler serves the OpenAPI document. The document is generated once and
// cached; it does not vary at runtime.
type Handler struct {
	once sync.Once
	doc  *openapi3.T
}

// NewHandler creates an OpenAPI handler.
func NewHandler() *Handler {
	return &Handler{}
}

// ServeSpec writes the OpenAPI document as JSON.
// GET /openapi.json
func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() { h.doc = GenerateSpec() })

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.doc)
}
