package cmd

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/docsmith/internal/config"
)

//go:embed scaffold
var scaffoldFS embed.FS

var initForce bool

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Create a new docsmith site in the current directory",
	Long: `Write .docsmith.yml, the default "blog" template, a first page and a
.gitignore for the output directory.

Existing files are left alone unless --force is given.

Examples:
  docsmith init
  docsmith init --force`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	written, err := scaffold(afero.NewOsFs(), ".", config.Default(), initForce)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSuccess(out, "Initialized docsmith site")
	for _, name := range written {
		printDetail(out, "%s", name)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next: docsmith dev")
	return nil
}

// scaffold writes a new site below dir and returns the files it wrote. It
// refuses to touch existing files unless force is set.
func scaffold(fsys afero.Fs, dir string, cfg *config.Config, force bool) ([]string, error) {
	files, err := scaffoldFiles(cfg)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	if !force {
		var existing []string
		for _, name := range names {
			if ok, _ := afero.Exists(fsys, filepath.Join(dir, name)); ok {
				existing = append(existing, name)
			}
		}
		if len(existing) > 0 {
			return nil, fmt.Errorf("refusing to overwrite %s (use --force)", strings.Join(existing, ", "))
		}
	}

	for _, name := range names {
		target := filepath.Join(dir, name)
		if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fsys, target, files[name], 0o644); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// scaffoldFiles maps slash-separated relative paths to their contents.
func scaffoldFiles(cfg *config.Config) (map[string][]byte, error) {
	settings, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	files := map[string][]byte{
		config.FileName + ".yml": settings,
		".gitignore":             []byte("/" + filepath.ToSlash(filepath.Clean(cfg.OutputDir)) + "/\n"),
	}

	hello, err := scaffoldFS.ReadFile("scaffold/hello.md")
	if err != nil {
		return nil, err
	}
	files[path.Join(filepath.ToSlash(cfg.SourceDir), "hello.md")] = hello

	templateDir := path.Join(filepath.ToSlash(cfg.Template.Dir), cfg.Template.Name)
	err = fs.WalkDir(scaffoldFS, "scaffold/blog", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := scaffoldFS.ReadFile(p)
		if err != nil {
			return err
		}
		files[path.Join(templateDir, strings.TrimPrefix(p, "scaffold/blog/"))] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
