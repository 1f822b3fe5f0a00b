// Package template holds the page and index templates of the selected site
// template and renders HTML fragments into full documents.
//
// Templates are loaded from disk at runtime and can be reloaded while the
// dev server runs, so they use html/template rather than compiled
// components.
package template

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/conneroisu/docsmith/internal/errors"
)

const (
	// PageTemplate renders every document.
	PageTemplate = "page.tmpl"
	// IndexTemplate renders the site index.
	IndexTemplate = "index.tmpl"
	// Ext marks template sources; every other file in the template
	// directory is a static asset.
	Ext = ".tmpl"
)

// HTML is trusted markup inserted into a template without escaping.
type HTML = template.HTML

// PageData is passed to the page template.
type PageData struct {
	Title   string
	Path    string
	Content HTML
}

// PageLink is one entry of the index page listing.
type PageLink struct {
	Title string
	Href  string
}

// IndexData is passed to the index template.
type IndexData struct {
	Title   string
	Content HTML
	Pages   []PageLink
}

// Registry owns the compiled templates of one template directory.
type Registry struct {
	fs    afero.Fs
	dir   string
	mutex sync.RWMutex
	page  *template.Template
	index *template.Template
}

// NewRegistry loads the templates found in dir.
func NewRegistry(fs afero.Fs, dir string) (*Registry, error) {
	r := &Registry{fs: fs, dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses the templates from disk. On failure the previously
// loaded templates stay in use.
func (r *Registry) Reload() error {
	page, err := r.parse(PageTemplate)
	if err != nil {
		return err
	}
	index, err := r.parse(IndexTemplate)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	r.page, r.index = page, index
	r.mutex.Unlock()
	return nil
}

func (r *Registry) parse(name string) (*template.Template, error) {
	path := filepath.Join(r.dir, name)
	source, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, errors.NewTemplateError(errors.ErrCodeTemplateLoad, "cannot read template", err).WithPath(path)
	}

	tpl, err := template.New(name).Option("missingkey=error").Parse(string(source))
	if err != nil {
		return nil, errors.NewTemplateError(errors.ErrCodeTemplateLoad, "invalid template", err).WithPath(path)
	}
	return tpl, nil
}

// RenderPage renders a document page.
func (r *Registry) RenderPage(data PageData) (string, error) {
	r.mutex.RLock()
	tpl := r.page
	r.mutex.RUnlock()
	return execute(tpl, data, PageTemplate)
}

// RenderIndex renders the site index.
func (r *Registry) RenderIndex(data IndexData) (string, error) {
	r.mutex.RLock()
	tpl := r.index
	r.mutex.RUnlock()
	return execute(tpl, data, IndexTemplate)
}

func execute(tpl *template.Template, data interface{}, name string) (string, error) {
	if tpl == nil {
		return "", errors.NewTemplateError(errors.ErrCodeTemplateLoad, "template not loaded", nil).WithPath(name)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", errors.NewTemplateError(errors.ErrCodeTemplateRender, "cannot render template", err).WithPath(name)
	}
	return buf.String(), nil
}

// CopyStaticAssets copies every non-template file of the template
// directory into outputDir on dst, keeping relative paths.
func (r *Registry) CopyStaticAssets(dst afero.Fs, outputDir string) error {
	return afero.Walk(r.fs, r.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(info.Name(), Ext) {
			return nil
		}

		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(outputDir, rel)
		if err := dst.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.NewIOError(target, err)
		}
		if err := copyFile(r.fs, path, dst, target); err != nil {
			return errors.NewIOError(target, err)
		}
		return nil
	})
}

func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	in, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
