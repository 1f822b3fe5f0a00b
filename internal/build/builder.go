// Package build turns a source tree of markdown documents into the output
// tree served by docsmith.
//
// The Builder is the only writer of the output tree. Every file is rendered
// into memory first and then written with a temp file plus rename, so HTTP
// readers observe either the old or the new version of a page and never a
// torn one. A full build plans the whole site before touching the output
// tree; when planning fails on a template the previous output stays in
// place.
package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/logging"
	"github.com/conneroisu/docsmith/internal/template"
)

// ErrOutsideSource is returned for paths that do not lie under the source root.
var ErrOutsideSource = stderrors.New("path is outside the source root")

// IndexFile is the output name of the site index.
const IndexFile = "index.html"

// Renderer converts one source document into an HTML fragment.
type Renderer interface {
	Render(source []byte) (string, error)
}

// Templates wraps fragments into complete documents.
type Templates interface {
	RenderPage(data template.PageData) (string, error)
	RenderIndex(data template.IndexData) (string, error)
	Reload() error
	CopyStaticAssets(dst afero.Fs, outputDir string) error
}

// Options configures a Builder.
type Options struct {
	SourceRoot string
	OutputRoot string
	// Extensions lists the document extensions, lower case with a leading dot.
	Extensions []string
	SiteTitle  string
	// LiveReload appends the live-reload client to every generated page.
	LiveReload bool
	// Ignore reports whether a file or directory name is skipped by full builds.
	Ignore func(name string) bool
	Logger logging.Logger
}

// Builder owns the mapping from source paths to output paths and every
// mutation of the output tree.
type Builder struct {
	fs        afero.Fs
	renderer  Renderer
	templates Templates
	opts      Options
	logger    logging.Logger
	digests   *DigestCache
	metrics   *BuildMetrics

	mutex        sync.Mutex
	pages        map[string]template.PageLink
	indexContent template.HTML
}

// New creates a Builder over fs.
func New(fs afero.Fs, renderer Renderer, templates Templates, opts Options) *Builder {
	opts.SourceRoot = filepath.Clean(opts.SourceRoot)
	opts.OutputRoot = filepath.Clean(opts.OutputRoot)
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".md"}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Builder{
		fs:        fs,
		renderer:  renderer,
		templates: templates,
		opts:      opts,
		logger:    opts.Logger.WithComponent("builder"),
		digests:   NewDigestCache(),
		metrics:   NewBuildMetrics(),
		pages:     make(map[string]template.PageLink),
	}
}

// Metrics returns the write statistics of this Builder.
func (b *Builder) Metrics() *BuildMetrics {
	return b.metrics
}

// Fingerprint digests the current output tree as known to the Builder.
func (b *Builder) Fingerprint() string {
	b.digests.mutex.RLock()
	defer b.digests.mutex.RUnlock()

	paths := make([]string, 0, len(b.digests.entries))
	for path := range b.digests.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var buf []byte
	for _, path := range paths {
		d := b.digests.entries[path]
		buf = append(buf, path...)
		buf = append(buf, d[:]...)
	}
	return Sum(buf).String()[:16]
}

// OutputPath maps a source path to its output path. Document extensions
// become .html; every other file keeps its name.
func (b *Builder) OutputPath(path string) (string, error) {
	rel, err := b.rel(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.opts.OutputRoot, b.outputRel(rel)), nil
}

func (b *Builder) rel(path string) (string, error) {
	rel, err := filepath.Rel(b.opts.SourceRoot, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSource, path)
	}
	return rel, nil
}

func (b *Builder) outputRel(rel string) string {
	if !b.isDocument(rel) {
		return rel
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + OutputExt
}

func (b *Builder) isDocument(rel string) bool {
	ext := strings.ToLower(filepath.Ext(rel))
	for _, e := range b.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// isIndexDocument reports whether rel is the source of the site index,
// e.g. src/index.md. Its fragment becomes the index page content.
func (b *Builder) isIndexDocument(rel string) bool {
	return b.isDocument(rel) && b.outputRel(rel) == IndexFile
}

type plannedFile struct {
	path string
	data []byte
}

type sitePlan struct {
	files        []plannedFile
	pages        map[string]template.PageLink
	indexContent template.HTML
	failures     *errors.ErrorCollector
}

// BuildAll regenerates the whole output tree. Documents that fail to
// render are skipped and reported together in the returned error; a
// template failure aborts before the output tree is touched.
func (b *Builder) BuildAll(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	op := logging.StartOperation(b.logger, "full_build")

	plan, err := b.plan(ctx)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	if err := b.apply(ctx, plan); err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	op.End(ctx)
	return plan.failures.Err()
}

func (b *Builder) plan(ctx context.Context) (*sitePlan, error) {
	plan := &sitePlan{
		pages:    make(map[string]template.PageLink),
		failures: errors.NewErrorCollector(),
	}

	var assets []plannedFile
	walkErr := afero.Walk(b.fs, b.opts.SourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == b.opts.SourceRoot {
				return errors.NewReadError(path, err)
			}
			plan.failures.AddError(errors.NewReadError(path, err))
			return nil
		}
		if path != b.opts.SourceRoot && b.opts.Ignore != nil && b.opts.Ignore(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := b.rel(path)
		if err != nil {
			return err
		}
		outPath := filepath.Join(b.opts.OutputRoot, b.outputRel(rel))

		data, err := afero.ReadFile(b.fs, path)
		if err != nil {
			plan.failures.AddError(errors.NewReadError(path, err))
			return nil
		}

		if !b.isDocument(rel) {
			assets = append(assets, plannedFile{path: outPath, data: data})
			return nil
		}

		fragment, err := b.render(path, data)
		if err != nil {
			plan.failures.AddError(err)
			return nil
		}
		if b.isIndexDocument(rel) {
			plan.indexContent = fragment
			return nil
		}

		page, err := b.renderPage(rel, fragment)
		if err != nil {
			return err
		}
		plan.files = append(plan.files, plannedFile{path: outPath, data: []byte(page)})
		plan.pages[rel] = b.link(rel)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	index, err := b.renderIndex(plan.pages, plan.indexContent)
	if err != nil {
		return nil, err
	}

	// Static files first so generated pages win on a name clash.
	plan.files = append(assets, plan.files...)
	plan.files = append(plan.files, plannedFile{
		path: filepath.Join(b.opts.OutputRoot, IndexFile),
		data: []byte(index),
	})

	b.logger.Debug(ctx, "Full build planned",
		"pages", len(plan.pages),
		"files", len(plan.files),
		"failures", len(plan.failures.GetErrors()),
	)
	return plan, nil
}

func (b *Builder) apply(ctx context.Context, plan *sitePlan) error {
	if err := b.clearOutput(); err != nil {
		return err
	}
	b.digests.Clear()

	if err := b.templates.CopyStaticAssets(b.fs, b.opts.OutputRoot); err != nil {
		plan.failures.AddError(err)
	}

	for _, file := range plan.files {
		if _, err := b.write(file.path, file.data); err != nil {
			plan.failures.AddError(err)
		}
	}

	b.pages = plan.pages
	b.indexContent = plan.indexContent

	b.logger.Info(ctx, "Site built",
		"pages", len(plan.pages),
		"output", b.opts.OutputRoot,
	)
	return nil
}

// clearOutput empties the output root but keeps the directory itself.
func (b *Builder) clearOutput() error {
	if err := b.fs.MkdirAll(b.opts.OutputRoot, 0o755); err != nil {
		return errors.NewIOError(b.opts.OutputRoot, err)
	}
	entries, err := afero.ReadDir(b.fs, b.opts.OutputRoot)
	if err != nil {
		return errors.NewIOError(b.opts.OutputRoot, err)
	}
	for _, entry := range entries {
		path := filepath.Join(b.opts.OutputRoot, entry.Name())
		if err := b.fs.RemoveAll(path); err != nil {
			return errors.NewIOError(path, err)
		}
	}
	return nil
}

// BuildPage rebuilds the output of a single source path. Directories get
// their mirrored output directory; other files are copied verbatim.
func (b *Builder) BuildPage(ctx context.Context, path string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buildPage(ctx, path)
}

func (b *Builder) buildPage(ctx context.Context, path string) error {
	rel, err := b.rel(path)
	if err != nil {
		return err
	}

	info, err := b.fs.Stat(path)
	if err != nil {
		return errors.NewReadError(path, err)
	}
	outPath := filepath.Join(b.opts.OutputRoot, b.outputRel(rel))
	if info.IsDir() {
		if err := b.fs.MkdirAll(outPath, 0o755); err != nil {
			return errors.NewIOError(outPath, err)
		}
		return nil
	}

	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return errors.NewReadError(path, err)
	}

	if !b.isDocument(rel) {
		_, err := b.write(outPath, data)
		return err
	}

	fragment, err := b.render(path, data)
	if err != nil {
		return err
	}

	if b.isIndexDocument(rel) {
		b.indexContent = fragment
		return b.writeIndex()
	}

	page, err := b.renderPage(rel, fragment)
	if err != nil {
		return err
	}
	skipped, err := b.write(outPath, []byte(page))
	if err != nil {
		return err
	}

	b.logger.Debug(ctx, "Page built", "source", rel, "output", outPath, "unchanged", skipped)

	if _, known := b.pages[rel]; !known {
		b.pages[rel] = b.link(rel)
		return b.writeIndex()
	}
	return nil
}

// RemovePage deletes the output of a source path. A missing output is not
// an error.
func (b *Builder) RemovePage(ctx context.Context, path string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.removePage(ctx, path)
}

func (b *Builder) removePage(ctx context.Context, path string) error {
	rel, err := b.rel(path)
	if err != nil {
		return err
	}

	if b.isIndexDocument(rel) {
		b.indexContent = ""
		return b.writeIndex()
	}

	candidates := []string{filepath.Join(b.opts.OutputRoot, b.outputRel(rel))}
	if raw := filepath.Join(b.opts.OutputRoot, rel); raw != candidates[0] {
		// A removed directory named like a document, e.g. notes.md/.
		candidates = append(candidates, raw)
	}

	for _, outPath := range candidates {
		info, err := b.fs.Stat(outPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.NewIOError(outPath, err)
		}

		if info.IsDir() {
			if err := b.fs.RemoveAll(outPath); err != nil {
				return errors.NewIOError(outPath, err)
			}
			b.digests.Delete(outPath, true)
		} else {
			if err := b.fs.Remove(outPath); err != nil && !os.IsNotExist(err) {
				return errors.NewIOError(outPath, err)
			}
			b.digests.Delete(outPath, false)
		}
		b.logger.Debug(ctx, "Output removed", "source", rel, "output", outPath)
		break
	}

	if b.forgetPages(rel) {
		return b.writeIndex()
	}
	return nil
}

// forgetPages drops rel and everything below it from the index listing.
func (b *Builder) forgetPages(rel string) bool {
	changed := false
	for key := range b.pages {
		if key == rel || isBelow(rel, key) {
			delete(b.pages, key)
			changed = true
		}
	}
	return changed
}

// RenamePage moves the output of oldPath to the output of newPath and then
// refreshes the moved pages, whose titles and links depend on their path.
// When the old output does not exist the new path is simply built.
func (b *Builder) RenamePage(ctx context.Context, oldPath, newPath string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	oldRel, err := b.rel(oldPath)
	if err != nil {
		return err
	}
	newRel, err := b.rel(newPath)
	if err != nil {
		return err
	}

	// Moving bytes is only valid when both sides publish the same way.
	if b.isDocument(oldRel) != b.isDocument(newRel) || b.isIndexDocument(oldRel) || b.isIndexDocument(newRel) {
		return b.replace(ctx, oldPath, newPath)
	}

	oldOut := filepath.Join(b.opts.OutputRoot, b.outputRel(oldRel))
	newOut := filepath.Join(b.opts.OutputRoot, b.outputRel(newRel))

	info, err := b.fs.Stat(oldOut)
	if os.IsNotExist(err) {
		return b.replace(ctx, oldPath, newPath)
	}
	if err != nil {
		return errors.NewIOError(oldOut, err)
	}

	if err := b.fs.MkdirAll(filepath.Dir(newOut), 0o755); err != nil {
		return errors.NewIOError(newOut, err)
	}
	if err := b.fs.Rename(oldOut, newOut); err != nil {
		return errors.NewIOError(newOut, err)
	}
	b.digests.Move(oldOut, newOut)
	b.forgetPages(oldRel)

	b.logger.Debug(ctx, "Output moved", "from", oldOut, "to", newOut)

	failures := errors.NewErrorCollector()
	if info.IsDir() {
		walkErr := afero.Walk(b.fs, newPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				failures.AddError(errors.NewReadError(path, err))
				return nil
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := b.rel(path)
			if err != nil {
				return err
			}
			failures.AddError(b.refresh(ctx, path, rel))
			return nil
		})
		failures.AddError(walkErr)
	} else {
		failures.AddError(b.refresh(ctx, newPath, newRel))
	}
	failures.AddError(b.writeIndex())
	return failures.Err()
}

// replace removes the old output and builds the new path from scratch.
func (b *Builder) replace(ctx context.Context, oldPath, newPath string) error {
	failures := errors.NewErrorCollector()
	failures.AddError(b.removePage(ctx, oldPath))
	if exists, _ := afero.Exists(b.fs, newPath); exists {
		failures.AddError(b.buildPage(ctx, newPath))
	}
	return failures.Err()
}

// refresh rebuilds a moved document. Moved assets are already correct.
func (b *Builder) refresh(ctx context.Context, path, rel string) error {
	if !b.isDocument(rel) {
		return nil
	}
	return b.buildPage(ctx, path)
}

// ReloadTemplates re-parses the templates from disk.
func (b *Builder) ReloadTemplates(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.templates.Reload(); err != nil {
		return err
	}
	b.logger.Debug(ctx, "Templates reloaded")
	return nil
}

func (b *Builder) render(path string, data []byte) (template.HTML, error) {
	fragment, err := b.renderer.Render(data)
	if err != nil {
		return "", errors.NewRenderError(path, err)
	}
	return template.HTML(fragment), nil
}

func (b *Builder) renderPage(rel string, fragment template.HTML) (string, error) {
	page, err := b.templates.RenderPage(template.PageData{
		Title:   titleFromPath(rel),
		Path:    hrefFor(b.outputRel(rel)),
		Content: fragment,
	})
	if err != nil {
		return "", err
	}
	return b.decorate(page)
}

func (b *Builder) renderIndex(pages map[string]template.PageLink, content template.HTML) (string, error) {
	links := make([]template.PageLink, 0, len(pages))
	for _, link := range pages {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Href < links[j].Href })

	index, err := b.templates.RenderIndex(template.IndexData{
		Title:   b.opts.SiteTitle,
		Content: content,
		Pages:   links,
	})
	if err != nil {
		return "", err
	}
	return b.decorate(index)
}

func (b *Builder) writeIndex() error {
	index, err := b.renderIndex(b.pages, b.indexContent)
	if err != nil {
		return err
	}
	_, err = b.write(filepath.Join(b.opts.OutputRoot, IndexFile), []byte(index))
	return err
}

func (b *Builder) decorate(document string) (string, error) {
	if !b.opts.LiveReload {
		return document, nil
	}
	return InjectReloadScript(document)
}

func (b *Builder) link(rel string) template.PageLink {
	return template.PageLink{
		Title: titleFromPath(rel),
		Href:  hrefFor(b.outputRel(rel)),
	}
}

// write stores data at path unless the same bytes are already there.
func (b *Builder) write(path string, data []byte) (bool, error) {
	start := time.Now()
	digest := Sum(data)

	if prev, ok := b.digests.Get(path); ok && prev == digest {
		if exists, _ := afero.Exists(b.fs, path); exists {
			b.metrics.RecordBuild(BuildResult{Path: path, Duration: time.Since(start), Skipped: true})
			return true, nil
		}
	}

	err := writeAtomic(b.fs, path, data)
	if err != nil {
		err = errors.NewIOError(path, err)
	} else {
		b.digests.Set(path, digest)
	}
	b.metrics.RecordBuild(BuildResult{Path: path, Duration: time.Since(start), Error: err})
	return false, err
}

// writeAtomic writes data to a temp file next to path and renames it into
// place.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(name)
		return err
	}
	if err := fs.Chmod(name, 0o644); err != nil {
		fs.Remove(name)
		return err
	}
	if err := fs.Rename(name, path); err != nil {
		fs.Remove(name)
		return err
	}
	return nil
}
