package contrast

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeContrast_KnownPairs(t *testing.T) {
	white, black := RGB(255, 255, 255), RGB(0, 0, 0)

	res := ComputeContrast(white, black, ThresholdNormalText)
	assert.Equal(t, 21.0, res.Ratio)
	assert.True(t, res.Passes)

	same := ComputeContrast(RGB(12, 99, 200), RGB(12, 99, 200), ThresholdLargeText)
	assert.Equal(t, 1.0, same.Ratio)
	assert.False(t, same.Passes)

	// The dark theme's text on background pair.
	dark := ComputeContrast(RGB(224, 224, 224), RGB(10, 10, 10), ThresholdNormalText)
	assert.True(t, dark.Passes)
	assert.InDelta(t, 15.0, dark.Ratio, 0.01)
	assert.Equal(t, ThresholdNormalText, dark.Threshold)

	// #777 is the classic just-below-AA grey; #767676 just clears it.
	assert.False(t, ComputeContrast(RGB(0x77, 0x77, 0x77), white, ThresholdNormalText).Passes)
	assert.True(t, ComputeContrast(RGB(0x76, 0x76, 0x76), white, ThresholdNormalText).Passes)
	// Pure red on white lands exactly on 4:1.
	assert.Equal(t, 4.0, ComputeContrast(RGB(255, 0, 0), white, ThresholdNormalText).Ratio)
}

func TestRatioProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randColor := func() Color {
		return RGB(uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)))
	}
	for i := 0; i < 500; i++ {
		a, b := randColor(), randColor()
		r := Ratio(a, b)
		assert.GreaterOrEqual(t, r, 1.0)
		assert.LessOrEqual(t, r, 21.0+1e-9)
		assert.Equal(t, r, Ratio(b, a), "ratio must be symmetric")
		assert.Equal(t, 1.0, Ratio(a, a))
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want Color
	}{
		{"#fff", RGB(255, 255, 255)},
		{"#0A0b0C", RGB(10, 11, 12)},
		{"#00000080", Color{A: 128.0 / 255}},
		{"#f008", Color{R: 255, A: 136.0 / 255}},
		{"rgb(224, 224, 224)", RGB(224, 224, 224)},
		{"rgba(10,10,10,0.5)", Color{R: 10, G: 10, B: 10, A: 0.5}},
		{"rgb(10 20 30)", RGB(10, 20, 30)},
		{"rgb(10 20 30 / 25%)", Color{R: 10, G: 20, B: 30, A: 0.25}},
		{"rgb(100%, 0%, 50%)", RGB(255, 0, 128)},
		{"rgb(300, -5, 12.4)", RGB(255, 0, 12)},
		{"  White ", RGB(255, 255, 255)},
		{"grey", RGB(128, 128, 128)},
		{"color(srgb 1 0 0.5)", RGB(255, 0, 128)},
		{"color(srgb 10% 20% 30% / 0.5)", Color{R: 26, G: 51, B: 77, A: 0.5}},
		{"oklch(0.2 0 0)", RGB(22, 22, 22)},
		{"oklch(1 0 none)", RGB(255, 255, 255)},
		{"oklab(50% 0 0 / 25%)", Color{R: 99, G: 99, B: 99, A: 0.25}},
		{"oklab(0 0 0)", RGB(0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want.R, got.R)
			assert.Equal(t, tt.want.G, got.G)
			assert.Equal(t, tt.want.B, got.B)
			assert.InDelta(t, tt.want.A, got.A, 1e-9)
		})
	}
}

func TestParseColor_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "transparent", "rgba(0, 0, 0, 0)", "#00000000", "#12", "#ggg",
		"rgb(1,2)", "rgb(a,b,c)", "rgb(1,2,3", "hsl(0, 100%, 50%)", "chartreuse-ish",
		"color(display-p3 0.1 0.1 0.1)", "color(srgb 1 0)", "oklch(0.5 0.1 10%)", "lab(50 20 30)",
		"oklch(0.5 0 0 / 0)",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseColor(in)
			assert.ErrorIs(t, err, ErrInvalidColor)
		})
	}
}

func TestComputeContrastCSS(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		res := ComputeContrastCSS("rgb(0, 0, 0)", "#ffffff", ThresholdNormalText)
		assert.Equal(t, 21.0, res.Ratio)
		assert.True(t, res.Passes)
		assert.Empty(t, res.Error)
	})

	t.Run("unparseable input yields sentinel", func(t *testing.T) {
		assert.NotPanics(t, func() {
			res := ComputeContrastCSS("not-a-colour", "white", ThresholdNormalText)
			assert.Zero(t, res.Ratio)
			assert.False(t, res.Passes)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, ThresholdNormalText, res.Threshold)
		})
	})

	t.Run("transparent foreground is invalid", func(t *testing.T) {
		res := ComputeContrastCSS("rgba(0, 0, 0, 0)", "white", ThresholdNormalText)
		assert.False(t, res.Passes)
		assert.Zero(t, res.Ratio)
	})

	t.Run("translucent foreground is composited", func(t *testing.T) {
		res := ComputeContrastCSS("rgba(0, 0, 0, 0.5)", "white", ThresholdNormalText)
		assert.Equal(t, RGB(128, 128, 128), res.Foreground)
		assert.Equal(t, ComputeContrast(RGB(128, 128, 128), RGB(255, 255, 255), ThresholdNormalText).Ratio, res.Ratio)
	})
}

func TestComposite(t *testing.T) {
	assert.Equal(t, RGB(128, 128, 128), Composite(Color{A: 0.5}, RGB(255, 255, 255)))
	assert.Equal(t, RGB(10, 20, 30), Composite(RGB(10, 20, 30), RGB(255, 255, 255)))
	assert.Equal(t, RGB(255, 255, 255), Composite(Color{R: 1, A: 0}, RGB(255, 255, 255)))
}

func TestColorString(t *testing.T) {
	assert.Equal(t, "rgb(1, 2, 3)", RGB(1, 2, 3).String())
	assert.Equal(t, "rgba(1, 2, 3, 0.5)", Color{R: 1, G: 2, B: 3, A: 0.5}.String())
}
