package server

import (
	stderrors "errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/logging"
)

// ErrNotFound is returned by Resolve when no candidate file exists.
var ErrNotFound = stderrors.New("not found")

// Resolver maps request paths onto files of the output tree.
type Resolver struct {
	fs     afero.Fs
	logger logging.Logger
}

// NewResolver serves files below outputRoot of fsys. The view is read-only
// and cannot reach outside outputRoot.
func NewResolver(fsys afero.Fs, outputRoot string, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{
		fs:     afero.NewReadOnlyFs(afero.NewBasePathFs(fsys, outputRoot)),
		logger: logger.WithComponent("resolver"),
	}
}

// Resolve returns the rooted path of the file serving urlPath. It tries
// the path itself, then with ".html" appended, then "/index.html" below
// it. Missing files, directories and non-directory parents move on to the
// next candidate; any other failure is a resolver error.
func (r *Resolver) Resolve(urlPath string) (string, error) {
	if err := checkPath(urlPath); err != nil {
		return "", err
	}

	name := strings.TrimPrefix(urlPath, "/")
	for _, candidate := range []string{name, name + ".html", name + "/index.html"} {
		info, err := r.fs.Stat(candidate)
		if err != nil {
			if missing(err) {
				continue
			}
			return "", errors.NewResolverError(candidate, err)
		}
		// A trailing slash names a directory, never a file.
		if info.IsDir() || strings.HasSuffix(candidate, "/") {
			continue
		}
		return path.Clean("/" + candidate), nil
	}

	return "", ErrNotFound
}

func checkPath(urlPath string) error {
	if strings.ContainsAny(urlPath, "\\\x00") {
		return errors.ErrPathTraversal(urlPath)
	}
	for _, segment := range strings.Split(urlPath, "/") {
		if segment == ".." {
			return errors.ErrPathTraversal(urlPath)
		}
	}
	return nil
}

func missing(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ENOTDIR)
}

// ServeHTTP serves the resolved file with an inferred content type.
func (r *Resolver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := req.Context()
	name, err := r.Resolve(req.URL.Path)
	switch {
	case err == nil:
	case stderrors.Is(err, ErrNotFound):
		notFound(w, req)
		return
	case errors.IsSecurityError(err):
		r.logger.Warn(ctx, err, "Rejected request path", "path", req.URL.Path)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	default:
		r.logger.Error(ctx, err, "Cannot resolve request", "path", req.URL.Path)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	f, err := r.fs.Open(name)
	if missing(err) {
		// Removed by a rebuild after it was resolved.
		notFound(w, req)
		return
	}
	if err != nil {
		r.logger.Error(ctx, err, "Cannot open file", "path", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		r.logger.Error(ctx, err, "Cannot stat file", "path", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, req, info.Name(), info.ModTime(), f)
}
