package authreducer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/authcore/internal/authreducer"
)

// TestStore_DispatchAndWait exercises the production Store the same way
// cmd/authd's HTTP handlers do: enqueue an action, block until the
// resulting effects have fully settled, then read the terminal state.
func TestStore_DispatchAndWait(t *testing.T) {
	te := newTestEnv()
	store := authreducer.NewStore(te.env)
	ctx := context.Background()

	state := store.DispatchAndWait(ctx, authreducer.InitiateOAuth{
		Provider: "google", IP: "203.0.113.5", UserAgent: "agent/1",
	})
	require.NotNil(t, state.OAuthState, "state fragment must be recorded after InitiateOAuth")
	stateParam := state.OAuthState.StateParam

	te.oauth.setExchangeResult("code-1", authreducer.ProviderTokens{
		Email: "store-user@example.com", Name: "Store User", AccessToken: "at", RefreshToken: "rt",
	})

	state = store.DispatchAndWait(ctx, authreducer.OAuthCallback{
		Code: "code-1", State: stateParam, IP: "203.0.113.5", UserAgent: "agent/1",
	})
	require.NotNil(t, state.Session, "a session must be installed on success")
	assert.Equal(t, "store-user@example.com", state.Session.Email)
	assert.Empty(t, state.LastError)
}

// TestStore_ConcurrentDispatch_Serializes verifies that concurrent
// Dispatch calls against one Store never interleave reduce calls: only
// one goroutine ever drains at a time, and every dispatched action is
// eventually reduced exactly once (one email per dispatched request).
func TestStore_ConcurrentDispatch_Serializes(t *testing.T) {
	te := newTestEnv()
	store := authreducer.NewStore(te.env)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Dispatch(ctx, authreducer.SendMagicLinkRequested{Email: "concurrent@example.com"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, te.email.count())
}
