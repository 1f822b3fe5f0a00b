package cmd

import (
	"github.com/spf13/afero"

	"github.com/conneroisu/docsmith/internal/build"
	"github.com/conneroisu/docsmith/internal/config"
	"github.com/conneroisu/docsmith/internal/logging"
	"github.com/conneroisu/docsmith/internal/renderer"
	"github.com/conneroisu/docsmith/internal/template"
	"github.com/conneroisu/docsmith/internal/watcher"
)

// site is the build pipeline described by one configuration.
type site struct {
	sourceRoot   string
	outputRoot   string
	templateRoot string
	builder      *build.Builder
}

func newSite(fs afero.Fs, cfg *config.Config, logger logging.Logger, liveReload bool) (*site, error) {
	sourceRoot, err := cfg.SourceRoot()
	if err != nil {
		return nil, err
	}
	outputRoot, err := cfg.OutputRoot()
	if err != nil {
		return nil, err
	}
	templateRoot, err := cfg.TemplateRoot()
	if err != nil {
		return nil, err
	}

	templates, err := template.NewRegistry(fs, templateRoot)
	if err != nil {
		return nil, err
	}

	md := renderer.NewMarkdownRenderer(renderer.Options{
		HighlightStyle: cfg.Render.HighlightStyle,
		Unsafe:         cfg.Render.Unsafe,
	})

	builder := build.New(fs, md, templates, build.Options{
		SourceRoot: sourceRoot,
		OutputRoot: outputRoot,
		Extensions: cfg.Extensions,
		SiteTitle:  cfg.Title,
		LiveReload: liveReload,
		Ignore:     watcher.Ignored,
		Logger:     logger,
	})

	return &site{
		sourceRoot:   sourceRoot,
		outputRoot:   outputRoot,
		templateRoot: templateRoot,
		builder:      builder,
	}, nil
}
