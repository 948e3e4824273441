package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEvasionsScript(t *testing.T) {
	script, err := EvasionsScript(Persona{Platform: "MacIntel", Languages: []string{"de-DE", "de"}})
	require.NoError(t, err)
	assert.Contains(t, script, `{"platform":"MacIntel","languages":["de-DE","de"]}`)
	assert.Contains(t, script, "'webdriver'")

	t.Run("NoLanguagesFallsBack", func(t *testing.T) {
		script, err := EvasionsScript(Persona{Platform: "Linux x86_64"})
		require.NoError(t, err)
		assert.Contains(t, script, `"languages":["en-US","en"]`)
	})
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		langs []string
		want  string
	}{
		{[]string{"en-US", "en"}, "en-US,en;q=0.9"},
		{[]string{"fr-CA", "fr", "en"}, "fr-CA,fr;q=0.9,en;q=0.8"},
		{nil, "en-US,en;q=0.9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Persona{Languages: tt.langs}.AcceptLanguage())
	}
}

func TestApply(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tasks := Apply(DefaultPersona, zap.New(core))

	assert.Len(t, tasks, 5)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Applying browser stealth persona", entry.Message)
	assert.Equal(t, "Win32", entry.ContextMap()["platform"])

	t.Run("NilLogger", func(t *testing.T) {
		assert.NotPanics(t, func() { Apply(DefaultPersona, nil) })
	})
}
