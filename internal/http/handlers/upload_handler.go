// Upload HTTP handler.
//
// POST /upload accepts a multipart form with an audio recording in the
// "file" field and returns the public URL under which the blob store serves
// it. Entries reference the recording through that URL (audioUrl).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// UploadResponse carries the public URL of a stored recording.
type UploadResponse struct {
	URL string `json:"url" example:"https://cdn.example.com/audio/u1/1700000000000-note.webm"`
}

// Upload godoc
// @ID          upload
// @Summary     Upload an audio recording
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file  formData  file  true  "Audio file"
// @Success     200   {object}  handlers.UploadResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Missing file"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     413   {object}  handlers.ErrorResponse  "File too large"
// @Failure     500   {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := h.uploads.Upload(c.Request.Context(), uid, fh.Filename, contentType, f, fh.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UploadResponse{URL: url})
}
