package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diagnosis/slotgrid/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into dst. An empty body is accepted when
// allowEmpty is set and leaves dst at its zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	default:
		return domain.Validation(domain.CodeInvalidInput, "invalid JSON body")
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

type messageResponse struct {
	Message string `json:"message"`
}
