package http

import (
	"encoding/json"
	"net/http"

	oerrors "github.com/porthorian/openidc/pkg/errors"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders an OAuth error body with the RFC 6749 status mapping:
// 401 for failed client authentication, 500 for internal faults, 400 for
// everything else. Internal fault details never reach the wire.
func writeError(w http.ResponseWriter, err error) {
	code := oerrors.CodeOf(err)

	body := errorBody{Error: string(code), Description: err.Error()}
	status := http.StatusBadRequest

	switch code {
	case oerrors.CodeInvalidClient:
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
		status = http.StatusUnauthorized
	case oerrors.CodeServerError:
		body.Description = "internal server error"
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, body)
}
