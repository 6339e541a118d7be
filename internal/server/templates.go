package server

import (
	"bytes"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/cliffyan/go-metasearch/internal/engine"
)

type indexPage struct {
	Style   engine.Style
	Engines []string
}

type searchPage struct {
	Query   string
	Page    uint
	Results *engine.SearchResults
}

func (p searchPage) PrevPage() uint {
	return max(p.Page-1, 1)
}

func (p searchPage) NextPage() uint {
	return p.Page + 1
}

const layout = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="referrer" content="no-referrer">
<title>{{.Title}}</title>
<link rel="stylesheet" href="/static/colorschemes/{{.Style.ColorScheme}}.css">
<link rel="stylesheet" href="/static/themes/{{.Style.Theme}}.css">
</head>
<body>
<form class="search_bar" action="/search" method="get">
<input type="search" name="q" value="{{.Query}}" autofocus>
<button type="submit">Search</button>
</form>
{{end}}
{{define "foot"}}</body>
</html>
{{end}}`

const indexTemplate = `{{define "index"}}{{template "head" (head "go-metasearch" "" .Style)}}
<main class="search-container">
<p class="engines">Engines: {{range $i, $e := .Engines}}{{if $i}}, {{end}}{{$e}}{{end}}</p>
</main>
{{template "foot"}}{{end}}`

const searchTemplate = `{{define "search"}}{{template "head" (head (printf "%s - go-metasearch" .Query) .Query .Results.Style)}}
<main class="results">
{{with .Results}}
{{if .EngineErrorsInfo}}<ul class="engine_errors">
{{range .EngineErrorsInfo}}<li class="{{.Severity}}">{{.Engine}}: {{.Error}}</li>
{{end}}</ul>{{end}}
{{if .Disallowed}}<div class="result_disallowed">Your search - <strong>{{.PageQuery}}</strong> - has been disallowed.</div>
{{else if .Filtered}}<div class="result_filtered">Your search - <strong>{{.PageQuery}}</strong> - has been filtered.</div>
{{else if .NoEnginesSelected}}<div class="result_engine_not_selected">No engines were selected. Pick at least one in the settings.</div>
{{else if not .Results}}<div class="result_not_found">Your search - {{.PageQuery}} - did not match any documents.</div>
{{else}}{{range .Results}}<div class="result">
<h1><a href="{{.URL}}" rel="noreferrer noopener">{{.Title}}</a></h1>
<small>{{.URL}}</small>
<p>{{.Description}}</p>
<div class="upstream_engines">{{range .Engines}}<span>{{.}}</span>{{end}}</div>
</div>
{{end}}{{end}}
{{end}}
</main>
<nav class="page_navigation">
<a href="/search?q={{.Query}}&amp;page={{.PrevPage}}">&larr; previous</a>
<a href="/search?q={{.Query}}&amp;page={{.NextPage}}">next &rarr;</a>
</nav>
{{template "foot"}}{{end}}`

type headData struct {
	Title string
	Query string
	Style engine.Style
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"head": func(title, query string, style engine.Style) headData {
		return headData{Title: title, Query: query, Style: style}
	},
}).Parse(layout + indexTemplate + searchTemplate))

// render 先渲染到缓冲区，失败时不会输出半个页面
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("Failed to render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
