package preview_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/kiln/internal/preview"
)

func TestHubDeliversToEverySubscriber(testInstance *testing.T) {
	hub := preview.NewHub(nil)
	first, unsubscribeFirst := hub.Subscribe()
	second, unsubscribeSecond := hub.Subscribe()
	defer unsubscribeSecond()
	require.Equal(testInstance, 2, hub.Subscribers())

	hub.NotifyReload([]string{"index.html"})
	require.Equal(testInstance, []string{"index.html"}, (<-first).Paths)
	require.Equal(testInstance, []string{"index.html"}, (<-second).Paths)

	unsubscribeFirst()
	unsubscribeFirst()
	require.Equal(testInstance, 1, hub.Subscribers())
	_, open := <-first
	require.False(testInstance, open)
}

func TestHubDropsEventsForFullSubscribers(testInstance *testing.T) {
	hub := preview.NewHub(nil)
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for index := 0; index < 10; index++ {
		hub.NotifyReload(nil)
	}
	require.Equal(testInstance, 4, len(events))
}

func TestNilHubIgnoresNotifications(testInstance *testing.T) {
	var hub *preview.Hub
	require.NotPanics(testInstance, func() { hub.NotifyReload([]string{"a"}) })
	require.Zero(testInstance, hub.Subscribers())
}
