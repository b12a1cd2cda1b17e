package report

import (
	"bytes"
	"html/template"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: #1a1a1a;
            max-width: 900px;
            margin: 0 auto;
            padding: 2rem 1rem;
        }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #e0e0e0; padding: 0.4em 0.6em; text-align: left; }
        th { background-color: #f5f5f5; }
        a { color: #0066cc; }
    </style>
</head>
<body>
{{.Content}}
</body>
</html>
`

var page = template.Must(template.New("report").Parse(pageTemplate))

// RenderHTML converts markdown to a sanitized, self-contained HTML page.
func RenderHTML(md, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(md))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	body := bluemonday.UGCPolicy().SanitizeBytes(markdown.Render(doc, renderer))

	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Title   string
		Content template.HTML
	}{Title: title, Content: template.HTML(body)})
	if err != nil {
		return []byte("<!DOCTYPE html><html><head><title>Error</title></head><body><h1>Error rendering report</h1></body></html>")
	}
	return buf.Bytes()
}
