package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Hello {{.Name}}", map[string]any{"Name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)

	out, err = RenderTemplate("plain text without markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text without markers", out)

	out, err = RenderTemplate("{{upper .Name}}", map[string]any{"Name": "loud"})
	require.NoError(t, err)
	assert.Equal(t, "LOUD", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
