package textindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "quick", "brown", "fox"}, Tokenize("The quick, brown fox!"))
	assert.Empty(t, Tokenize("   "))
}

func TestNoop(t *testing.T) {
	var idx Indexer = Noop{}
	assert.NoError(t, idx.Index(context.Background(), "id1", []string{"a", "b"}))
	got, err := idx.Search(context.Background(), "a")
	assert.NoError(t, err)
	assert.Empty(t, got)
}
