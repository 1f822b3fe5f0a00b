package build

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// OutputExt is the extension every document is published under.
const OutputExt = ".html"

// titleFromPath turns "notes/getting-started.md" into "Getting Started".
func titleFromPath(rel string) string {
	name := filepath.Base(rel)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}

// hrefFor returns the site URL of a document's output.
func hrefFor(outRel string) string {
	return "/" + filepath.ToSlash(outRel)
}

func isBelow(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
