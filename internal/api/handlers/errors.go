package handlers

import (
	"net/http"

	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/utils"
)

// writeError maps a service error to its HTTP status with the stable,
// caller-safe message. Internal causes never reach the response body.
func writeError(w http.ResponseWriter, err error) {
	utils.JSONResponse(w, apperr.Status(err), utils.Payload{
		Success: false,
		Message: apperr.PublicMessage(err),
	})
}
