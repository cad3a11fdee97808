package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigmoyd/flowcraft/internal/backend"
)

func TestAPIKeysFrom(t *testing.T) {
	set := map[string]string{"composio": "ck", "gemini": ""}
	keys := apiKeysFrom(func(name string) string { return set[name] })
	assert.Equal(t, backend.APIKeys{"composio": "ck"}, keys)
	assert.Empty(t, apiKeysFrom(func(string) string { return "" }))
}

func TestKeysCommandFlags(t *testing.T) {
	var names []string
	for _, f := range keysCommand().Flags {
		names = append(names, f.Names()[0])
	}
	assert.Equal(t, backend.ProviderKeys, names)
}

func TestPublicSubcommands(t *testing.T) {
	var names []string
	for _, c := range publicCommand().Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"show", "use"}, names)
}
