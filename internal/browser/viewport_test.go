// internal/browser/viewport_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseViewport(t *testing.T) {
	tests := []struct {
		in      string
		want    Viewport
		wantErr bool
	}{
		{in: "1280x800", want: Viewport{Width: 1280, Height: 800}},
		{in: " 375X667 ", want: Viewport{Width: 375, Height: 667}},
		{in: "1280", wantErr: true},
		{in: "0x800", wantErr: true},
		{in: "wide x tall", wantErr: true},
		{in: "1x2x3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseViewport(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func TestParseViewports(t *testing.T) {
	vps, err := ParseViewports([]string{"1280x800", "375x667"})
	require.NoError(t, err)
	assert.Len(t, vps, 2)

	_, err = ParseViewports([]string{"1280x800", "bogus"})
	assert.Error(t, err)

	assert.Equal(t, "", Viewport{}.String())
}

func TestBoxVisible(t *testing.T) {
	var nilBox *Box
	assert.False(t, nilBox.Visible())
	assert.False(t, (&Box{Width: 10}).Visible())
	assert.True(t, (&Box{Width: 10, Height: 2}).Visible())
}

func mustParse(t *testing.T, s string) Viewport {
	t.Helper()
	vp, err := ParseViewport(s)
	require.NoError(t, err)
	return vp
}
