package selector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/catalyst/pkg/schema"
)

func sampleMetas() []schema.ActionMetadata {
	return []schema.ActionMetadata{
		{Key: "/model/openai/gpt-4", Name: "openai/gpt-4", Type: schema.ActionTypeModel,
			Metadata: map[string]any{"provider": "openai"}},
		{Key: "/model/vertexai/gemini", Name: "vertexai/gemini", Type: schema.ActionTypeModel,
			Metadata: map[string]any{"provider": "vertexai"}},
		{Key: "/tool/search", Name: "search", Type: schema.ActionTypeTool},
	}
}

func TestNewSet_AllEngines(t *testing.T) {
	var buf bytes.Buffer
	s := NewSet(slog.New(slog.NewTextHandler(&buf, nil)))

	for _, name := range []string{"cel", "expr", "jq"} {
		_, ok := s.Engine(name)
		assert.True(t, ok, "engine %q", name)
	}
	assert.Empty(t, buf.String(), "healthy construction must not log")
}

func TestSet_Filter_CEL(t *testing.T) {
	s := NewSet(nil)

	kept, err := s.Filter(context.Background(), "cel", sampleMetas(), `type == "model"`)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, "/model/openai/gpt-4", kept[0].Key)
}

func TestSet_Filter_CEL_Metadata(t *testing.T) {
	s := NewSet(nil)

	kept, err := s.Filter(context.Background(), "cel", sampleMetas(),
		`"provider" in metadata && metadata["provider"] == "openai"`)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "openai/gpt-4", kept[0].Name)
}

func TestSet_Filter_Expr(t *testing.T) {
	s := NewSet(nil)

	kept, err := s.Filter(context.Background(), "expr", sampleMetas(),
		`type == "tool" || name startsWith "openai/"`)
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestSet_Filter_NonBool(t *testing.T) {
	s := NewSet(nil)

	_, err := s.Filter(context.Background(), "cel", sampleMetas(), `name`)
	require.Error(t, err)

	var cErr *schema.CatalystError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestSet_Filter_UnknownEngine(t *testing.T) {
	s := NewSet(nil)

	_, err := s.Filter(context.Background(), "lisp", sampleMetas(), `true`)
	require.Error(t, err)

	var cErr *schema.CatalystError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeNotFound, cErr.Code)
}

func TestSet_Filter_CompileError(t *testing.T) {
	s := NewSet(nil)

	_, err := s.Filter(context.Background(), "cel", sampleMetas(), `type ==`)
	require.Error(t, err)

	var cErr *schema.CatalystError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestSet_Project(t *testing.T) {
	s := NewSet(nil)

	out, err := s.Project(context.Background(), sampleMetas(), `.key`)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "/model/openai/gpt-4", out[0])
	assert.Equal(t, "/tool/search", out[2])
}

func TestEngines_CacheReuse(t *testing.T) {
	eng := NewExprEngine()

	data := metaEnv(sampleMetas()[0])
	for i := 0; i < 3; i++ {
		out, err := eng.Evaluate(context.Background(), `type == "model"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	}
	assert.Len(t, eng.cache, 1)
}
