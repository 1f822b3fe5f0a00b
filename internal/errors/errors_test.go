package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsmithErrorError(t *testing.T) {
	err := NewRenderError("src/a.md", fs.ErrPermission)

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_RENDER_FAILED]")
	assert.Contains(t, msg, "src/a.md")
	assert.Contains(t, msg, "cannot render document")
	assert.Contains(t, msg, "permission denied")
}

func TestDocsmithErrorUnwrap(t *testing.T) {
	err := NewIOError("build/a.html", fs.ErrNotExist)

	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDocsmithErrorIs(t *testing.T) {
	a := NewRenderError("a.md", nil)
	b := NewRenderError("b.md", fmt.Errorf("boom"))
	c := NewIOError("a.md", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestClassification(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		recoverable bool
		fatal       bool
	}{
		{"watch setup", NewWatchSetupError("src", fs.ErrNotExist), false, true},
		{"watch runtime", NewWatchRuntimeError("src", fmt.Errorf("overflow")), false, true},
		{"render", NewRenderError("a.md", nil), true, false},
		{"template", NewTemplateError(ErrCodeTemplateLoad, "bad", nil), true, false},
		{"io", NewIOError("a.html", nil), true, false},
		{"resolver", NewResolverError("/a", nil), false, false},
		{"traversal", ErrPathTraversal("/../x"), false, false},
		{"plain", fmt.Errorf("plain"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.recoverable, IsRecoverable(tc.err))
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestIsTypeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("rebuild: %w", NewTemplateError(ErrCodeTemplateRender, "cannot render page", nil))

	assert.True(t, IsType(err, ErrorTypeTemplate))
	assert.False(t, IsType(err, ErrorTypeRender))
	assert.True(t, IsSecurityError(ErrPathTraversal("..")))
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.NoError(t, collector.Err())

	collector.AddError(nil)
	assert.False(t, collector.HasErrors())

	first := NewRenderError("a.md", nil)
	collector.AddError(first)
	assert.Same(t, first, collector.Err())

	collector.AddError(NewIOError("b.html", fs.ErrPermission))
	err := collector.Err()
	require.Error(t, err)

	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 2)
	assert.Contains(t, err.Error(), "2 documents failed")
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Len(t, collector.GetErrors(), 2)

	collector.Clear()
	assert.False(t, collector.HasErrors())
}
