package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/sjaiswal27/courierdrop/internal/api/middleware"
	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/services"
	"github.com/sjaiswal27/courierdrop/internal/utils"
)

// TransferHandler serves the code-gated transfer surface.
type TransferHandler struct {
	Transfers      *services.TransferService
	MaxUploadBytes int64
}

func parseID(r *http.Request, name string) (uint, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("Invalid " + name)
	}
	return uint(id), nil
}

func transferToken(r *http.Request) string {
	return r.Header.Get("X-Transfer-Token")
}

// POST /api/v1/transfers/send
// Send godoc
// @Summary Send files to another user behind an access code
// @Tags Transfers
// @Accept multipart/form-data
// @Produce json
// @Param receiver_id formData int true "Receiver user id"
// @Param access_code formData string false "Access code (generated when empty)"
// @Param files formData file true "Files to send" style(form) explode(true)
// @Success 200 {object} utils.Payload
// @Failure 404 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Router /api/v1/transfers/send [post]
func (h *TransferHandler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}
	userID, _ := middleware.UserID(r)

	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "Invalid file upload form",
		})
		return
	}

	receiverID, err := strconv.ParseUint(r.FormValue("receiver_id"), 10, 64)
	if err != nil || receiverID == 0 {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "Invalid receiver_id",
		})
		return
	}

	formFiles := r.MultipartForm.File["files"]
	incoming := make([]services.IncomingFile, 0, len(formFiles))
	for _, fh := range formFiles {
		src, err := fh.Open()
		if err != nil {
			continue
		}
		defer src.Close()
		incoming = append(incoming, services.IncomingFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Reader:      src,
		})
	}

	result, err := h.Transfers.CreateTransfer(userID, uint(receiverID), r.FormValue("access_code"), incoming)
	if err != nil {
		writeError(w, err)
		return
	}

	data := map[string]any{
		"transfer_id": result.Transfer.ID,
		"receiver": map[string]any{
			"id":    result.Receiver.ID,
			"email": result.Receiver.Email,
		},
		"file_count": result.FileCount,
		"created_at": result.Transfer.CreatedAt,
	}
	if result.GeneratedCode != "" {
		data["generated_access_code"] = result.GeneratedCode
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Transfer sent",
		Data:    data,
	})
}

// POST /api/v1/transfers/{id}/verify
// Verify godoc
// @Summary Verify a transfer's access code and obtain a transfer token
// @Tags Transfers
// @Accept json
// @Produce json
// @Param id path int true "Transfer id"
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Failure 410 {object} utils.Payload
// @Failure 429 {object} utils.Payload
// @Router /api/v1/transfers/{id}/verify [post]
func (h *TransferHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}
	userID, _ := middleware.UserID(r)

	transferID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var input struct {
		AccessCode string `json:"access_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	token, attempts, err := h.Transfers.Verify(transferID, userID, input.AccessCode)
	if err != nil {
		writeError(w, err)
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Access code verified",
		Data: map[string]any{
			"verified":              true,
			"transfer_access_token": token,
			"failed_attempts":       attempts,
		},
	})
}

// GET /api/v1/transfers/{id}/files
// ListFiles godoc
// @Summary List files of a transfer visible to the caller's side
// @Tags Transfers
// @Produce json
// @Param id path int true "Transfer id"
// @Param X-Transfer-Token header string false "Transfer access token (receiver only)"
// @Success 200 {object} utils.Payload
// @Failure 403 {object} utils.Payload
// @Router /api/v1/transfers/{id}/files [get]
func (h *TransferHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	transferID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	files, err := h.Transfers.ListVisible(transferID, userID, transferToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Files retrieved successfully",
		Data:    files,
	})
}

// GET /api/v1/transfers/{id}/files/{fileId}/download
func (h *TransferHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	transferID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := parseID(r, "fileId")
	if err != nil {
		writeError(w, err)
		return
	}

	record, blob, err := h.Transfers.DownloadFile(transferID, fileID, userID, transferToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	defer blob.Close()

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.OriginalFilename}))
	http.ServeContent(w, r, record.OriginalFilename, record.CreatedAt, blob)
}

// DELETE /api/v1/transfers/{id}/files/{fileId}
func (h *TransferHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}
	userID, _ := middleware.UserID(r)
	transferID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	fileID, err := parseID(r, "fileId")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.Transfers.DeleteFile(transferID, fileID, userID, transferToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "File deleted",
		Data: map[string]any{
			"deleted":                 true,
			"hard_deleted":            result.HardDeleted,
			"remaining_visible_files": result.RemainingVisible,
		},
	})
}

// GET /api/v1/transfers/{id}/download-all
func (h *TransferHandler) DownloadAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	transferID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	archive, err := h.Transfers.BuildZip(r.Context(), transferID, userID, transferToken(r))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(archive.ContentLength(), 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": archive.Filename}))
	if !archive.Modified.IsZero() {
		w.Header().Set("Last-Modified", archive.Modified.UTC().Format(http.TimeFormat))
	}
	// A client disconnect mid-stream stops the copy; nothing to undo.
	_, _ = archive.WriteTo(w)
}

// GET /api/v1/transfers/incoming/count
func (h *TransferHandler) IncomingCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	count, err := h.Transfers.CountIncoming(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Incoming transfer count",
		Data:    map[string]any{"count": count},
	})
}

// GET /api/v1/transfers/received
func (h *TransferHandler) Received(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	items, err := h.Transfers.ListReceived(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Received transfers",
		Data:    items,
	})
}

// GET /api/v1/transfers/sent
func (h *TransferHandler) Sent(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	items, err := h.Transfers.ListSent(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Sent transfers",
		Data:    items,
	})
}
