package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// allowedUploadExts gates the tabular formats the operation catalog can
// consume.
var allowedUploadExts = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".json": true,
}

// UploadFileResponse is returned by POST /api/v1/conversations/:chat_id/upload.
type UploadFileResponse struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Size        int    `json:"size"`
	State       string `json:"state"`
	Reply       any    `json:"reply,omitempty"`
}

// uploadFileHandler handles POST /api/v1/conversations/:chat_id/upload
// (multipart form, field "file").
func (s *Server) uploadFileHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	maxBytes := s.cfg.Server.MaxUploadBytes
	if c.Request().ContentLength > maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds size limit")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	if fh.Size > maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds size limit")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedUploadExts[ext] {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type "+ext)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read upload")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read upload")
	}
	if int64(len(data)) > maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds size limit")
	}

	result, err := s.svc.UploadFile(c.Request().Context(), chatID, fh.Filename, data)
	if err != nil {
		return mapServiceError(err)
	}

	return respond(c, http.StatusOK, &UploadFileResponse{
		Filename:    fh.Filename,
		DownloadURL: downloadURL(c, chatID, filepath.Base(result.FilePath)),
		Size:        len(data),
		State:       string(result.State),
		Reply:       result.Reply,
	}, "file uploaded")
}

// downloadFileHandler handles GET /api/v1/conversations/:chat_id/files/:filename,
// streaming the file back.
func (s *Server) downloadFileHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	filename := c.Param("filename")
	if chatID == "" || filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id and filename are required")
	}

	f, err := s.svc.OpenFile(c.Request().Context(), chatID, filename)
	if err != nil {
		return mapServiceError(err)
	}
	defer func() { _ = f.Close() }()

	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(f.Name())+`"`)
	return c.Stream(http.StatusOK, contentTypeFor(filename), f)
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".tsv":
		return "text/tab-separated-values"
	case ".sql", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
