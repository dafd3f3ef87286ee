package utils

import (
	"io"
	"strings"
)

// DrainAndClose drains and closes rc so the transport can reuse the connection.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// Snippet returns at most n bytes of body for log lines, marking truncation with "...".
func Snippet(body []byte, n int) string {
	if len(body) <= n {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(string(body[:n])) + "..."
}
