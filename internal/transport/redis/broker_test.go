package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rocketscienceinc/tilegrid/internal/fanout"
	"github.com/rocketscienceinc/tilegrid/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_RelayToHub(t *testing.T) {
	ctx, st := suite.New(t)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := fanout.NewHub(st.Logger, 8)
	go hub.Run(runCtx)

	broker := NewBroker(st.Logger, st.Storage, "tilegrid:test")

	// Given: a relay forwarding the broker channel into the hub, and a hub subscriber
	relay, err := broker.Subscribe(ctx)
	require.NoError(t, err)
	defer relay.Close()

	forwardErr := make(chan error, 1)
	go func() {
		forwardErr <- relay.Forward(runCtx, hub)
	}()

	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	// When: a command is published on the broker
	msg := "0b7c1f0e-6a0e-4a39-9d3b-1f3e1c4b2a10\nupdate\n1,2,3"
	require.NoError(t, broker.Publish(ctx, msg))

	// Then: the hub subscriber receives it unchanged
	select {
	case got := <-sub.C:
		assert.Equal(t, msg, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}

	// When: the relay is stopped
	cancel()

	// Then: Forward returns cleanly
	select {
	case err = <-forwardErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	ctx, st := suite.New(t)

	broker := NewBroker(st.Logger, st.Storage, "tilegrid:empty")

	require.NoError(t, broker.Publish(ctx, "nobody listens"))
}
