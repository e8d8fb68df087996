package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalogIsValid(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NoError(t, c.Validate(ProviderReplicate, ProviderFal, ProviderKie))
	assert.Equal(t, []string{ProviderFal, ProviderKie, ProviderReplicate}, c.Providers())
}

func TestKlingPrices(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	m, ok := c.Get("kling-v2.1")
	require.True(t, ok)

	cases := []struct {
		mode, duration string
		want           int64
	}{
		{"standard", "5", 140},
		{"standard", "10", 275},
		{"pro", "5", 250},
		{"pro", "10", 495},
	}
	for _, tc := range cases {
		price, err := m.PriceFor(map[string]string{"mode": tc.mode, "duration": tc.duration})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(tc.want).Equal(price), "%s/%s got %s", tc.mode, tc.duration, price)
	}
}

func TestPriceIsDeterministic(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	m, _ := c.Get("seedance-1-pro")
	params := map[string]string{"resolution": "1080p", "duration": "10", "aspect_ratio": "9:16", "camera_fixed": "free"}

	first, err := m.PriceFor(params)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.PriceFor(params)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
	assert.Equal(t, "250", first.String())
}

func TestBaseAppliesWhenNoRuleMatches(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	m, _ := c.Get("nano-banana-pro")

	p, err := m.PriceFor(map[string]string{"aspect_ratio": "1:1", "resolution": "1K"})
	require.NoError(t, err)
	assert.Equal(t, "14", p.String())

	p, err = m.PriceFor(map[string]string{"aspect_ratio": "1:1", "resolution": "4K"})
	require.NoError(t, err)
	assert.Equal(t, "24", p.String())
}

func TestUnpricedCombinationRejected(t *testing.T) {
	m := Model{
		ID:       "partial",
		Provider: ProviderReplicate,
		Endpoint: "owner/partial",
		Output:   OutputImage,
		Choices: []Choice{{
			Key:     "size",
			Options: []Option{{Token: "s"}, {Token: "l"}},
		}},
		Prices: PriceTable{Rules: []PriceRule{{Match: map[string]string{"size": "s"}, Price: decimal.NewFromInt(5)}}},
	}
	_, err := New(m)
	require.ErrorIs(t, err, ErrPriceUndefined)

	_, err = m.PriceFor(map[string]string{"size": "l"})
	assert.ErrorIs(t, err, ErrPriceUndefined)
}

func TestValidateRejectsBadModels(t *testing.T) {
	base := Model{ID: "m", Provider: ProviderReplicate, Endpoint: "o/m", Output: OutputImage, Prices: Fixed("1")}

	dupChoice := base
	dupChoice.Choices = []Choice{
		{Key: "a", Options: []Option{{Token: "x"}}},
		{Key: "a", Options: []Option{{Token: "y"}}},
	}
	emptyChoice := base
	emptyChoice.Choices = []Choice{{Key: "a"}}
	mediaInput := base
	mediaInput.Input = map[string]string{"image": SourceMedia}
	badOutput := base
	badOutput.Output = "hologram"
	longToken := base
	longToken.Choices = []Choice{{Key: "a", Options: []Option{{Token: "this-token-is-way-too-long"}}}}

	for name, m := range map[string]Model{
		"duplicate choice": dupChoice,
		"empty options":    emptyChoice,
		"media input":      mediaInput,
		"bad output":       badOutput,
		"long token":       longToken,
	} {
		_, err := New(m)
		assert.Error(t, err, name)
	}

	_, err := New(base, base)
	assert.Error(t, err)

	c, err := New(base)
	require.NoError(t, err)
	assert.Error(t, c.Validate(ProviderFal))
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `
models:
  - id: sdxl
    title: SDXL
    family: image
    provider: replicate
    endpoint: stability-ai/sdxl
    min_prompt_len: 3
    output: image
    choices:
      - key: size
        prompt: Size?
        options:
          - token: sq
            value: 1024
          - token: wide
    prices:
      base: "4.50"
      rules:
        - match: {size: wide}
          price: "6"
    input:
      prompt: prompt
      width: size
    static:
      num_outputs: 1
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	m, ok := c.Get("sdxl")
	require.True(t, ok)
	assert.Equal(t, FamilyImage, m.Family)
	assert.Equal(t, 3, m.MinPromptLen)
	require.Len(t, m.Choices, 1)
	assert.Equal(t, "wide", m.Choices[0].Options[1].Label)
	assert.Equal(t, "wide", m.Choices[0].Options[1].Value)

	p, err := m.PriceFor(map[string]string{"size": "sq"})
	require.NoError(t, err)
	assert.Equal(t, "4.5", p.String())
	p, err = m.PriceFor(map[string]string{"size": "wide"})
	require.NoError(t, err)
	assert.Equal(t, "6", p.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRestrictDropsUnservedModels(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	kieOnly, dropped, err := c.Restrict(ProviderKie)
	require.NoError(t, err)
	for _, m := range kieOnly.Models() {
		assert.Equal(t, ProviderKie, m.Provider)
	}
	assert.Equal(t, len(c.Models()), len(kieOnly.Models())+len(dropped))
	assert.Contains(t, dropped, "kling-v2.1")

	_, _, err = c.Restrict("nobody")
	assert.Error(t, err)
}

func TestExampleCatalogLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "catalog.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, c.Validate(ProviderReplicate, ProviderFal))

	kling, ok := c.Get("kling-v2.1")
	require.True(t, ok)
	assert.Equal(t, MediaImage, kling.Media)
	p, err := kling.PriceFor(map[string]string{"mode": "pro", "duration": "10"})
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(495)))

	veo, ok := c.Get("veo3-fal")
	require.True(t, ok)
	p, err = veo.PriceFor(map[string]string{"aspect_ratio": "9:16"})
	require.NoError(t, err)
	assert.Equal(t, "660", p.String())
}
