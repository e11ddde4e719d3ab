package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02 15:04")
		},
	}).ParseFS(templateFS, "templates/report.html"),
)

// RenderReportHTML renders the table as a printable HTML page.
func RenderReportHTML(t Table) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}
