package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
)

// parsePathID parses a uuid path parameter.
func parsePathID(c *gin.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, apperr.WithMessage(apperr.ErrInvalidInput, "Invalid "+param)
	}
	return id, nil
}

// bindJSON decodes and validates the request body.
func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperr.WithMessage(apperr.ErrInvalidInput, err.Error())
	}
	return nil
}

// queryInt reads an integer query parameter, clamped to [1, limit].
func queryInt(c *gin.Context, name string, def, limit int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 1 {
		return def
	}
	return min(n, limit)
}

// readUpload reads the multipart "file" field, enforcing the size cap.
func (s *Server) readUpload(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", apperr.ErrTooLarge
		}
		return nil, "", apperr.WithMessage(apperr.ErrInvalidInput, "A file is required")
	}
	if fh.Size > s.opts.MaxUploadBytes {
		return nil, "", apperr.ErrTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, "", apperr.ErrTooLarge
	}
	return data, fh.Header.Get("Content-Type"), nil
}
