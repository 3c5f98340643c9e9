package mediator

import (
	"testing"
	"time"

	"variations/config"
	"variations/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	creds := credentials(config.ProvidersConfig{
		Stability: config.ProviderConfig{APIKey: " sk-1 ", Model: "sdxl"},
		Leonardo: config.ProviderConfig{
			APIKey: "leo",
			Extra:  map[string]string{"poll_interval": "1s", "api_key": "shadowed"},
		},
		Local: config.ProviderConfig{Timeout: 90 * time.Second},
	})

	require.Len(t, creds, len(providers.All()))
	assert.Equal(t, "sk-1", creds[providers.Stability][providers.KeyAPIKey])
	assert.Equal(t, "sdxl", creds[providers.Stability][providers.KeyModel])
	assert.Equal(t, "leo", creds[providers.Leonardo][providers.KeyAPIKey])
	assert.Equal(t, "1s", creds[providers.Leonardo]["poll_interval"])
	assert.Equal(t, 90*time.Second, creds[providers.Local].Duration("timeout", 0))
	assert.Empty(t, creds[providers.DeepAI])
}

func TestProviderRPS(t *testing.T) {
	rps, err := providerRPS(map[string]float64{"hf": 0.5, "DeepAI": 1})
	require.NoError(t, err)
	assert.Equal(t, map[providers.Provider]float64{providers.HuggingFace: 0.5, providers.DeepAI: 1}, rps)

	_, err = providerRPS(map[string]float64{"dall-e": 1})
	assert.Error(t, err)
}

func TestNewApp_WithoutSidecar(t *testing.T) {
	app, err := NewApp(config.Config{
		Api:   config.ApiConfig{Port: "0"},
		Batch: config.BatchConfig{ProviderRPS: map[string]float64{"replicate": 2}},
	})
	require.NoError(t, err)
	assert.Nil(t, app.rpc)

	app.queue.Run()
	app.Shutdown()
}
