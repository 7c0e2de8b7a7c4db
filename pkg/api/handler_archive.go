package api

import (
	"io"
	"net/http"
	"net/url"
	"path/filepath"

	echo "github.com/labstack/echo/v5"
)

// maxArchiveBytes caps restore uploads.
const maxArchiveBytes = 512 << 20

// DumpResponse is returned by POST /api/v1/conversations/:chat_id/dump.
type DumpResponse struct {
	DumpFile    string `json:"dump_file"`
	DownloadURL string `json:"download_url"`
}

// dumpHandler handles POST /api/v1/conversations/:chat_id/dump: packs the
// conversation into a tar.gz archive on the server and returns where to
// fetch it.
func (s *Server) dumpHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	path, err := s.svc.Dump(c.Request().Context(), chatID)
	if err != nil {
		return mapServiceError(err)
	}
	name := filepath.Base(path)
	return respond(c, http.StatusOK, &DumpResponse{
		DumpFile:    name,
		DownloadURL: absoluteURL(c, "/api/v1/conversations/%s/dumps/%s",
			url.PathEscape(chatID), url.PathEscape(name)),
	}, "conversation dumped")
}

// downloadDumpHandler handles GET /api/v1/conversations/:chat_id/dumps/:filename,
// streaming a dump archive back.
func (s *Server) downloadDumpHandler(c *echo.Context) error {
	chatID := c.Param("chat_id")
	filename := c.Param("filename")
	if chatID == "" || filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id and filename are required")
	}

	f, err := s.svc.OpenDump(c.Request().Context(), chatID, filename)
	if err != nil {
		return mapServiceError(err)
	}
	defer func() { _ = f.Close() }()

	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(f.Name())+`"`)
	return c.Stream(http.StatusOK, "application/gzip", f)
}

// restoreHandler handles POST /api/v1/conversations/restore: rebuilds a
// conversation from an uploaded archive. Accepts multipart (field "archive")
// or a raw gzip body.
func (s *Server) restoreHandler(c *echo.Context) error {
	var archive []byte

	if fh, err := c.FormFile("archive"); err == nil {
		if fh.Size > maxArchiveBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "archive exceeds size limit")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read archive")
		}
		defer func() { _ = f.Close() }()
		archive, err = io.ReadAll(io.LimitReader(f, maxArchiveBytes))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read archive")
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxArchiveBytes))
		if err != nil || len(body) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "archive body is required")
		}
		archive = body
	}

	conv, err := s.svc.Restore(c.Request().Context(), archive)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, conversationResponse(c, conv), "conversation restored")
}
