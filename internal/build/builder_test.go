package build

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/renderer"
	"github.com/conneroisu/docsmith/internal/template"
)

const (
	sourceRoot   = "/site/src"
	outputRoot   = "/site/build"
	templateRoot = "/site/templates/blog"

	pageTemplate  = `<html><head><title>{{.Title}}</title></head><body data-path="{{.Path}}">{{.Content}}</body></html>` + "\n"
	indexTemplate = `<html><head><title>{{.Title}}</title></head><body>{{.Content}}<ul>{{range .Pages}}<li><a href="{{.Href}}">{{.Title}}</a></li>{{end}}</ul></body></html>` + "\n"
)

// failingRenderer fails on documents containing BROKEN, standing in for
// unreadable or malformed input.
type failingRenderer struct {
	Renderer
}

func (r failingRenderer) Render(source []byte) (string, error) {
	if bytes.Contains(source, []byte("BROKEN")) {
		return "", stderrors.New("malformed document")
	}
	return r.Renderer.Render(source)
}

type testSite struct {
	fs        afero.Fs
	templates *template.Registry
	builder   *Builder
}

func newTestSite(t *testing.T, fs afero.Fs, root string, sources map[string]string, configure ...func(*Options)) *testSite {
	t.Helper()

	files := map[string]string{
		filepath.Join(root, templateRoot, template.PageTemplate):  pageTemplate,
		filepath.Join(root, templateRoot, template.IndexTemplate): indexTemplate,
		filepath.Join(root, templateRoot, "style.css"):            "body{}",
	}
	for name, content := range sources {
		files[filepath.Join(root, sourceRoot, name)] = content
	}
	for path, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	registry, err := template.NewRegistry(fs, filepath.Join(root, templateRoot))
	require.NoError(t, err)

	opts := Options{
		SourceRoot: filepath.Join(root, sourceRoot),
		OutputRoot: filepath.Join(root, outputRoot),
		Extensions: []string{".md", ".markdown"},
		SiteTitle:  "Docs",
		Ignore:     func(name string) bool { return strings.HasPrefix(name, ".") },
	}
	for _, fn := range configure {
		fn(&opts)
	}

	md := failingRenderer{renderer.NewMarkdownRenderer(renderer.Options{})}
	return &testSite{
		fs:        fs,
		templates: registry,
		builder:   New(fs, md, registry, opts),
	}
}

func newMemSite(t *testing.T, sources map[string]string, configure ...func(*Options)) *testSite {
	t.Helper()
	return newTestSite(t, afero.NewMemMapFs(), "", sources, configure...)
}

func defaultSources() map[string]string {
	return map[string]string{
		"index.md":           "Welcome.\n",
		"about.md":           "# About\n\nHello *world*.\n",
		"blog/first-post.md": "# First\n",
		"img/logo.svg":       "<svg/>",
	}
}

func (s *testSite) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(s.fs, path)
	require.NoError(t, err)
	return string(data)
}

func (s *testSite) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(s.fs, path)
	require.NoError(t, err)
	return ok
}

func (s *testSite) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, s.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(s.fs, path, []byte(content), 0o644))
}

func snapshot(t *testing.T, fs afero.Fs, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	require.NoError(t, afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		tree[path] = string(data)
		return nil
	}))
	return tree
}

func TestOutputPath(t *testing.T) {
	s := newMemSite(t, nil)

	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"document", "/site/src/about.md", "/site/build/about.html", false},
		{"nested document", "/site/src/blog/2024/post.md", "/site/build/blog/2024/post.html", false},
		{"second extension", "/site/src/notes.markdown", "/site/build/notes.html", false},
		{"upper case extension", "/site/src/README.MD", "/site/build/README.html", false},
		{"asset keeps its name", "/site/src/img/logo.png", "/site/build/img/logo.png", false},
		{"unclean path", "/site/src/blog/../about.md", "/site/build/about.html", false},
		{"source root", "/site/src", "/site/build", false},
		{"outside the source root", "/etc/passwd", "", true},
		{"sibling with shared prefix", "/site/srcx/a.md", "", true},
		{"escaping the source root", "/site/src/../secret.md", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.builder.OutputPath(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideSource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			again, err := s.builder.OutputPath(tt.input)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestBuildAllGolden(t *testing.T) {
	s := newMemSite(t, defaultSources())
	require.NoError(t, s.builder.BuildAll(context.Background()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "about", []byte(s.read(t, "/site/build/about.html")))
	g.Assert(t, "index", []byte(s.read(t, "/site/build/index.html")))

	assert.Equal(t, "<svg/>", s.read(t, "/site/build/img/logo.svg"))
	assert.Equal(t, "body{}", s.read(t, "/site/build/style.css"))
	assert.Contains(t, s.read(t, "/site/build/blog/first-post.html"), "<title>First Post</title>")
	assert.False(t, s.exists(t, "/site/build/index.md"))
}

func TestBuildAllClearsStaleOutput(t *testing.T) {
	s := newMemSite(t, defaultSources())
	s.write(t, "/site/build/stale.html", "old")

	require.NoError(t, s.builder.BuildAll(context.Background()))
	assert.False(t, s.exists(t, "/site/build/stale.html"))
}

func TestBuildAllIdempotent(t *testing.T) {
	s := newMemSite(t, defaultSources())

	require.NoError(t, s.builder.BuildAll(context.Background()))
	first := snapshot(t, s.fs, outputRoot)
	fingerprint := s.builder.Fingerprint()

	require.NoError(t, s.builder.BuildAll(context.Background()))
	second := snapshot(t, s.fs, outputRoot)

	assert.Equal(t, first, second)
	assert.Equal(t, fingerprint, s.builder.Fingerprint())
	for path := range second {
		assert.NotContains(t, filepath.Base(path), ".tmp-", "temp file left behind")
	}
}

func TestBuildAllSkipsIgnoredFiles(t *testing.T) {
	sources := defaultSources()
	sources[".draft.md"] = "# Draft\n"
	sources[".git/config"] = "[core]"
	s := newMemSite(t, sources)

	require.NoError(t, s.builder.BuildAll(context.Background()))
	assert.False(t, s.exists(t, "/site/build/.draft.html"))
	assert.False(t, s.exists(t, "/site/build/.git/config"))
}

func TestBuildAllIsolatesFailures(t *testing.T) {
	s := newMemSite(t, map[string]string{
		"a.md": "# A\n",
		"b.md": "BROKEN\n",
		"c.md": "# C\n",
	})

	err := s.builder.BuildAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRender))
	assert.Contains(t, err.Error(), "b.md")

	assert.Contains(t, s.read(t, "/site/build/a.html"), "<h1>A</h1>")
	assert.Contains(t, s.read(t, "/site/build/c.html"), "<h1>C</h1>")
	assert.False(t, s.exists(t, "/site/build/b.html"))

	index := s.read(t, "/site/build/index.html")
	assert.Contains(t, index, `href="/a.html"`)
	assert.NotContains(t, index, `href="/b.html"`)
}

func TestBuildAllMissingSourceRoot(t *testing.T) {
	s := newMemSite(t, nil)

	err := s.builder.BuildAll(context.Background())
	require.Error(t, err)
	assert.False(t, errors.IsFatal(err))
}

func TestTemplateChangeRebuildsEveryPage(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	s.write(t, filepath.Join(templateRoot, template.PageTemplate), `<main>{{.Content}}</main>`)
	require.NoError(t, s.builder.ReloadTemplates(ctx))
	require.NoError(t, s.builder.BuildAll(ctx))

	assert.True(t, strings.HasPrefix(s.read(t, "/site/build/about.html"), "<main><h1>About</h1>"))
	assert.True(t, strings.HasPrefix(s.read(t, "/site/build/blog/first-post.html"), "<main><h1>First</h1>"))
}

func TestTemplateFailureKeepsPreviousOutput(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))
	before := snapshot(t, s.fs, outputRoot)

	// Parses, but fails on execution.
	s.write(t, filepath.Join(templateRoot, template.IndexTemplate), `{{.Missing}}`)
	require.NoError(t, s.builder.ReloadTemplates(ctx))

	err := s.builder.BuildAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTemplate))
	assert.Equal(t, before, snapshot(t, s.fs, outputRoot))
}

func TestReloadTemplatesError(t *testing.T) {
	s := newMemSite(t, defaultSources())

	s.write(t, filepath.Join(templateRoot, template.PageTemplate), `{{.Content`)
	err := s.builder.ReloadTemplates(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTemplate))
}

func TestBuildPage(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	t.Run("existing document", func(t *testing.T) {
		s.write(t, "/site/src/about.md", "# About us\n")
		require.NoError(t, s.builder.BuildPage(ctx, "/site/src/about.md"))
		assert.Contains(t, s.read(t, "/site/build/about.html"), "<h1>About us</h1>")
	})

	t.Run("new document is listed on the index", func(t *testing.T) {
		s.write(t, "/site/src/guides/setup.md", "# Setup\n")
		require.NoError(t, s.builder.BuildPage(ctx, "/site/src/guides/setup.md"))
		assert.Contains(t, s.read(t, "/site/build/guides/setup.html"), "<title>Setup</title>")
		assert.Contains(t, s.read(t, "/site/build/index.html"), `<a href="/guides/setup.html">Setup</a>`)
	})

	t.Run("asset is copied verbatim", func(t *testing.T) {
		s.write(t, "/site/src/data.json", `{"a":1}`)
		require.NoError(t, s.builder.BuildPage(ctx, "/site/src/data.json"))
		assert.Equal(t, `{"a":1}`, s.read(t, "/site/build/data.json"))
	})

	t.Run("index document updates the index content", func(t *testing.T) {
		s.write(t, "/site/src/index.md", "Hello again.\n")
		require.NoError(t, s.builder.BuildPage(ctx, "/site/src/index.md"))
		index := s.read(t, "/site/build/index.html")
		assert.Contains(t, index, "<p>Hello again.</p>")
		assert.Contains(t, index, `href="/about.html"`)
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, s.fs.MkdirAll("/site/src/empty", 0o755))
		require.NoError(t, s.builder.BuildPage(ctx, "/site/src/empty"))
		info, err := s.fs.Stat("/site/build/empty")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("render failure leaves previous output", func(t *testing.T) {
		s.write(t, "/site/src/about.md", "BROKEN\n")
		err := s.builder.BuildPage(ctx, "/site/src/about.md")
		require.Error(t, err)
		assert.True(t, errors.IsRecoverable(err))
		assert.Contains(t, s.read(t, "/site/build/about.html"), "<h1>About us</h1>")
	})

	t.Run("missing source", func(t *testing.T) {
		err := s.builder.BuildPage(ctx, "/site/src/nope.md")
		require.Error(t, err)
		assert.True(t, errors.IsRecoverable(err))
	})

	t.Run("outside the source root", func(t *testing.T) {
		assert.ErrorIs(t, s.builder.BuildPage(ctx, "/etc/hosts"), ErrOutsideSource)
	})
}

func TestBuildPageSkipsUnchangedWrites(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	s.builder.Metrics().Reset()
	require.NoError(t, s.builder.BuildPage(ctx, "/site/src/about.md"))

	snap := s.builder.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.SkippedWrites)

	// An output deleted behind the Builder's back is written again.
	require.NoError(t, s.fs.Remove("/site/build/about.html"))
	require.NoError(t, s.builder.BuildPage(ctx, "/site/src/about.md"))
	assert.True(t, s.exists(t, "/site/build/about.html"))
}

func TestRemovePage(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	require.NoError(t, s.fs.Remove("/site/src/about.md"))
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/about.md"))
	assert.False(t, s.exists(t, "/site/build/about.html"))
	assert.NotContains(t, s.read(t, "/site/build/index.html"), "/about.html")

	// Removing again is not an error.
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/about.md"))
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/never-existed.md"))
}

func TestRemovePageDirectory(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	require.NoError(t, s.fs.RemoveAll("/site/src/blog"))
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/blog"))

	assert.False(t, s.exists(t, "/site/build/blog"))
	assert.NotContains(t, s.read(t, "/site/build/index.html"), "first-post")
}

func TestRemoveIndexDocumentKeepsIndex(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	require.NoError(t, s.fs.Remove("/site/src/index.md"))
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/index.md"))

	index := s.read(t, "/site/build/index.html")
	assert.NotContains(t, index, "Welcome.")
	assert.Contains(t, index, `href="/about.html"`)
}

func TestUpsertUpsertRemoveLeavesNoOutput(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	s.write(t, "/site/src/a.md", "# one\n")
	require.NoError(t, s.builder.BuildPage(ctx, "/site/src/a.md"))
	s.write(t, "/site/src/a.md", "# two\n")
	require.NoError(t, s.builder.BuildPage(ctx, "/site/src/a.md"))
	require.NoError(t, s.fs.Remove("/site/src/a.md"))
	require.NoError(t, s.builder.RemovePage(ctx, "/site/src/a.md"))

	assert.False(t, s.exists(t, "/site/build/a.html"))
}

func TestRenamePage(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	require.NoError(t, s.fs.Rename("/site/src/about.md", "/site/src/contact-us.md"))
	require.NoError(t, s.builder.RenamePage(ctx, "/site/src/about.md", "/site/src/contact-us.md"))

	assert.False(t, s.exists(t, "/site/build/about.html"))
	page := s.read(t, "/site/build/contact-us.html")
	assert.Contains(t, page, "<title>Contact Us</title>")
	assert.Contains(t, page, `data-path="/contact-us.html"`)

	index := s.read(t, "/site/build/index.html")
	assert.Contains(t, index, `<a href="/contact-us.html">Contact Us</a>`)
	assert.NotContains(t, index, "/about.html")
}

func TestRenamePageWithoutPreviousOutput(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	s.write(t, "/site/src/fresh.md", "# Fresh\n")
	require.NoError(t, s.builder.RenamePage(ctx, "/site/src/unknown.md", "/site/src/fresh.md"))
	assert.Contains(t, s.read(t, "/site/build/fresh.html"), "<h1>Fresh</h1>")
}

func TestRenameDocumentToAsset(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	require.NoError(t, s.fs.Rename("/site/src/about.md", "/site/src/about.txt"))
	require.NoError(t, s.builder.RenamePage(ctx, "/site/src/about.md", "/site/src/about.txt"))

	assert.False(t, s.exists(t, "/site/build/about.html"))
	assert.Equal(t, "# About\n\nHello *world*.\n", s.read(t, "/site/build/about.txt"))
}

func TestRenameDirectory(t *testing.T) {
	root := t.TempDir()
	s := newTestSite(t, afero.NewOsFs(), root, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))

	src := filepath.Join(root, sourceRoot)
	out := filepath.Join(root, outputRoot)
	require.NoError(t, os.Rename(filepath.Join(src, "blog"), filepath.Join(src, "posts")))
	require.NoError(t, s.builder.RenamePage(ctx, filepath.Join(src, "blog"), filepath.Join(src, "posts")))

	assert.NoDirExists(t, filepath.Join(out, "blog"))
	page, err := os.ReadFile(filepath.Join(out, "posts", "first-post.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `data-path="/posts/first-post.html"`)

	index, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `href="/posts/first-post.html"`)
	assert.NotContains(t, string(index), `href="/blog/`)
}

func TestLiveReloadInjection(t *testing.T) {
	s := newMemSite(t, defaultSources(), func(o *Options) { o.LiveReload = true })
	require.NoError(t, s.builder.BuildAll(context.Background()))

	for _, path := range []string{"/site/build/about.html", "/site/build/index.html"} {
		assert.Contains(t, s.read(t, path), "<script>"+ReloadScript+"</script></body>", path)
	}
	assert.NotContains(t, s.read(t, "/site/build/img/logo.svg"), "EventSource")
}

func TestFingerprintChangesWithOutput(t *testing.T) {
	s := newMemSite(t, defaultSources())
	ctx := context.Background()
	require.NoError(t, s.builder.BuildAll(ctx))
	before := s.builder.Fingerprint()

	s.write(t, "/site/src/about.md", "# Changed\n")
	require.NoError(t, s.builder.BuildPage(ctx, "/site/src/about.md"))
	assert.NotEqual(t, before, s.builder.Fingerprint())
	assert.Len(t, s.builder.Fingerprint(), 16)
}
