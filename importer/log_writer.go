package importer

import (
	"bytes"
	"log/slog"
	"strings"
)

// gitLogWriter forwards git's progress output to the logger, one entry per
// line, and keeps the last bytes around to explain a failure.
type gitLogWriter struct {
	logger *slog.Logger
	repo   string
	tail   bytes.Buffer
	limit  int
}

func newGitLogWriter(logger *slog.Logger, repo string) *gitLogWriter {
	return &gitLogWriter{logger: logger, repo: repo, limit: 4096}
}

func (w *gitLogWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for _, line := range strings.FieldsFunc(string(p), func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			w.logger.Debug(line, "repo", w.repo)
		}
	}
	w.tail.Write(p)
	if over := w.tail.Len() - w.limit; over > 0 {
		w.tail.Next(over)
	}
	return len(p), nil
}

// Reason returns the last line git wrote, usually the fatal error.
func (w *gitLogWriter) Reason() string {
	lines := strings.FieldsFunc(w.tail.String(), func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
