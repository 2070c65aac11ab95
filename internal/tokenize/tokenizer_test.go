package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitespace(t *testing.T) {
	var tok Whitespace

	assert.Equal(t, []string{"モーター", "異音"}, tok.Tokenize("モーター　異音"))
	assert.Nil(t, tok.Tokenize(""))
	assert.False(t, tok.Available())
	assert.Equal(t, "whitespace", tok.Name())
}

func TestKagome_KeepsContentWordsInBaseForm(t *testing.T) {
	// Given: the IPA tokenizer
	k, err := NewKagome()
	require.NoError(t, err)

	// When: tokenizing a sentence with a conjugated verb and particles
	tokens := k.Tokenize("モーターが動いた")

	// Then: particles and auxiliaries are dropped, the verb is lemmatized
	assert.Contains(t, tokens, "モーター")
	assert.Contains(t, tokens, "動く")
	assert.NotContains(t, tokens, "が")
	assert.NotContains(t, tokens, "た")
	assert.True(t, k.Available())
}

func TestKagome_EmptyInput(t *testing.T) {
	k, err := NewKagome()
	require.NoError(t, err)

	assert.Empty(t, k.Tokenize(""))
	assert.Empty(t, k.Tokenize("   "))
}

func TestNew_ReturnsWorkingTokenizer(t *testing.T) {
	tok := New()

	assert.NotEmpty(t, tok.Tokenize("ベアリング 交換"))
}

func TestIsContentPOS(t *testing.T) {
	assert.True(t, isContentPOS("名詞"))
	assert.True(t, isContentPOS("動詞"))
	assert.True(t, isContentPOS("形容詞"))
	assert.True(t, isContentPOS("副詞"))
	assert.False(t, isContentPOS("助詞"))
	assert.False(t, isContentPOS("助動詞"))
}
