package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plf1996/simFocus/internal/models"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string                       { return s.name }
func (s *stubProvider) HealthCheck(context.Context) error  { return nil }
func (s *stubProvider) Complete(context.Context, *models.GenerationRequest) (*models.GenerationResult, error) {
	return &models.GenerationResult{Content: s.name}, nil
}
func (s *stubProvider) CompleteStream(context.Context, *models.GenerationRequest) (<-chan *models.GenerationChunk, error) {
	ch := make(chan *models.GenerationChunk)
	close(ch)
	return ch, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	first := &stubProvider{name: "first"}
	second := &stubProvider{name: "second"}

	require.NoError(t, r.Register("first", first))
	require.NoError(t, r.Register("second", second))
	assert.Equal(t, 2, r.Len())

	got, err := r.Get("second")
	require.NoError(t, err)
	assert.Same(t, Provider(second), got)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_DefaultResolvesFirstRegistered(t *testing.T) {
	r := NewRegistry()
	first := &stubProvider{name: "zeta"}
	require.NoError(t, r.Register("zeta", first))
	require.NoError(t, r.Register("alpha", &stubProvider{name: "alpha"}))

	for _, name := range []string{"", "default"} {
		got, err := r.Get(name)
		require.NoError(t, err)
		assert.Same(t, Provider(first), got, "registration order wins, not lexical order")
	}
}

func TestRegistry_RegisterRejections(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("p", &stubProvider{name: "p"}))

	assert.Error(t, r.Register("", &stubProvider{name: "x"}))
	assert.Error(t, r.Register("nil", nil))
	assert.Error(t, r.Register("p", &stubProvider{name: "dup"}))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EmptyDefault(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("default")
	assert.Error(t, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", &stubProvider{name: "zeta"}))
	require.NoError(t, r.Register("alpha", &stubProvider{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
}
