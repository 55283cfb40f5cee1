package api

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

const annotatorTemplate = "apps/annotator.html.tpl"

// templateSet loads page templates from an fs.FS. In debug mode every lookup
// re-parses from disk so edits show up without a restart.
type templateSet struct {
	fsys  fs.FS
	debug bool

	mu     sync.RWMutex
	parsed map[string]*template.Template
}

func newTemplateSet(fsys fs.FS, debug bool) (*templateSet, error) {
	ts := &templateSet{fsys: fsys, debug: debug, parsed: make(map[string]*template.Template)}
	if !debug {
		if _, err := ts.lookup(annotatorTemplate); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

func (ts *templateSet) lookup(name string) (*template.Template, error) {
	if !ts.debug {
		ts.mu.RLock()
		tpl, ok := ts.parsed[name]
		ts.mu.RUnlock()
		if ok {
			return tpl, nil
		}
	}
	tpl, err := template.ParseFS(ts.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if !ts.debug {
		ts.mu.Lock()
		ts.parsed[name] = tpl
		ts.mu.Unlock()
	}
	return tpl, nil
}

type annotatorPage struct {
	Prefix string
	Image  string
}

func (s *Server) annotator(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.lookup(annotatorTemplate)
	if err != nil {
		s.logger.Error("annotator template unavailable", zap.Error(err))
		http.Error(w, "template unavailable", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	page := annotatorPage{Prefix: s.opts.Prefix, Image: r.URL.Query().Get("image")}
	if err := tpl.Execute(&buf, page); err != nil {
		s.logger.Error("annotator render failed", zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("annotator write interrupted", zap.Error(err))
	}
}
