package handlers

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/sjaiswal27/courierdrop/internal/api/middleware"
	"github.com/sjaiswal27/courierdrop/internal/services"
	"github.com/sjaiswal27/courierdrop/internal/utils"
)

// FileHandler serves the persistent direct-share file records.
type FileHandler struct {
	Files          *services.FileService
	MaxUploadBytes int64
}

// POST /api/v1/files/upload
// Upload godoc
// @Summary Upload a file as a persistent direct-share record
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param upload formData file true "File to upload"
// @Success 200 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Router /api/v1/files/upload [post]
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
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
	src, header, err := r.FormFile("upload")
	if err != nil {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "A file is required",
		})
		return
	}
	defer src.Close()

	record, err := h.Files.Upload(userID, services.IncomingFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      src,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "File uploaded successfully",
		Data:    record,
	})
}

// GET /api/v1/files
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	files, err := h.Files.List(userID)
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

// GET /api/v1/files/{id}/download
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	fileID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	record, blob, err := h.Files.Download(fileID, userID)
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

// POST /api/v1/files/{id}/assign
func (h *FileHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}
	userID, _ := middleware.UserID(r)
	fileID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var input struct {
		ClientID uint `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.ClientID == 0 {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	if err := h.Files.Assign(fileID, userID, input.ClientID); err != nil {
		writeError(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Assigned",
		Data:    map[string]any{"file_id": fileID, "client_id": input.ClientID},
	})
}
