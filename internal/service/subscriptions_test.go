package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistryOnline(t *testing.T) {
	registry := newSubscriptionRegistry()
	require.False(t, registry.online("site-1"))

	a := &client{}
	b := &client{}

	registry.subscribe("site-1", a)
	registry.subscribe("site-1", b)
	require.True(t, registry.online("site-1"))
	require.Len(t, registry.snapshot("site-1"), 2)

	// Removing one of two admins does not empty the site.
	require.False(t, registry.unsubscribe("site-1", a))
	require.True(t, registry.online("site-1"))

	// Removing the last one does.
	require.True(t, registry.unsubscribe("site-1", b))
	require.False(t, registry.online("site-1"))
}

func TestSubscriptionRegistrySubscribeIsIdempotent(t *testing.T) {
	registry := newSubscriptionRegistry()
	a := &client{}

	registry.subscribe("site-1", a)
	registry.subscribe("site-1", a)
	require.Len(t, registry.snapshot("site-1"), 1)

	require.True(t, registry.unsubscribe("site-1", a))
	require.False(t, registry.unsubscribe("site-1", a))
}

func TestSubscriptionRegistryUnsubscribeAll(t *testing.T) {
	registry := newSubscriptionRegistry()
	a := &client{}
	other := &client{}

	registry.subscribe("site-1", a)
	registry.subscribe("site-2", a)
	registry.subscribe("site-2", other)

	emptied := registry.unsubscribeAll(a)
	require.ElementsMatch(t, []string{"site-1"}, emptied)
	require.False(t, registry.online("site-1"))
	require.True(t, registry.online("site-2"))
}
