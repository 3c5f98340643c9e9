package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"variations/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Run("done after retryable errors", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			calls++
			switch calls {
			case 1:
				return false, providers.NewError(providers.KindNetworkError, "reset")
			case 2:
				return false, nil
			}
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("fatal error stops", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			calls++
			return false, providers.NewError(providers.KindProviderError, "generation failed")
		})
		assert.Equal(t, providers.KindProviderError, providers.KindOf(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("timeout keeps last error", func(t *testing.T) {
		cause := providers.NewError(providers.KindTimeout, "slow")
		err := Poll(context.Background(), time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
			return false, cause
		})
		assert.Equal(t, providers.KindTimeout, providers.KindOf(err))
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Poll(ctx, time.Hour, time.Hour, func(context.Context) (bool, error) { return true, nil })
		assert.Error(t, err)
	})
}
