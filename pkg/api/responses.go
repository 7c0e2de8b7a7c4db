package api

import (
	"fmt"
	"net/url"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tableflow/tableflow/pkg/version"
)

// Envelope is the uniform response wrapper for every JSON endpoint.
type Envelope struct {
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Meta       Meta   `json:"meta"`
	StatusCode int    `json:"status_code"`
}

// Meta carries per-request response metadata.
type Meta struct {
	APIVersion    string `json:"api_version"`
	RequestID     string `json:"request_id"`
	RequestedTime string `json:"requested_time"` // RFC3339Nano
}

// respond writes an enveloped JSON response.
func respond(c *echo.Context, status int, data any, message string) error {
	id, _ := c.Get(requestIDKey).(string)
	return c.JSON(status, &Envelope{
		Data:       data,
		Message:    message,
		StatusCode: status,
		Meta: Meta{
			APIVersion:    version.APIVersion,
			RequestID:     id,
			RequestedTime: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

// absoluteURL builds an absolute URL for the current request host, honoring
// forwarded-proto from a fronting proxy.
func absoluteURL(c *echo.Context, format string, args ...any) string {
	scheme := "http"
	if proto := c.Request().Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request().TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request().Host, fmt.Sprintf(format, args...))
}

// downloadURL returns the absolute download URL for one conversation file.
func downloadURL(c *echo.Context, chatID, filename string) string {
	return absoluteURL(c, "/api/v1/conversations/%s/files/%s",
		url.PathEscape(chatID), url.PathEscape(filename))
}
