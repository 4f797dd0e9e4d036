package handlers

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PageHandler renders the operator's scanner page.
type PageHandler struct {
	TemplateFS fs.FS
	Scanner    Scanner
}

func (h *PageHandler) Index(c *gin.Context) {
	tmpl, err := template.ParseFS(h.TemplateFS, "templates/scanner.html")
	if err != nil {
		slog.Error("Failed to parse scanner template", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, gin.H{"state": h.Scanner.State()}); err != nil {
		slog.Error("Template execution error", "error", err)
	}
}
