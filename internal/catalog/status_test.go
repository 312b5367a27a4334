package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitionGraph(t *testing.T) {
	t.Parallel()

	allowed := []struct {
		from, to Status
	}{
		{StatusCollectingURLs, StatusAwaitingConfirm},
		{StatusCollectingURLs, StatusParsingProducts},
		{StatusCollectingURLs, StatusCanceled},
		{StatusCollectingURLs, StatusError},
		{StatusAwaitingConfirm, StatusParsingProducts},
		{StatusAwaitingConfirm, StatusCanceled},
		{StatusAwaitingConfirm, StatusError},
		{StatusParsingProducts, StatusComplete},
		{StatusParsingProducts, StatusCanceled},
		{StatusParsingProducts, StatusError},
	}
	for _, tc := range allowed {
		require.True(t, tc.from.CanTransition(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to Status
	}{
		{StatusCollectingURLs, StatusComplete},
		{StatusAwaitingConfirm, StatusAwaitingConfirm},
		{StatusAwaitingConfirm, StatusCollectingURLs},
		{StatusParsingProducts, StatusAwaitingConfirm},
		{StatusComplete, StatusParsingProducts},
		{StatusComplete, StatusCanceled},
		{StatusCanceled, StatusParsingProducts},
		{StatusError, StatusCollectingURLs},
		{StatusError, StatusComplete},
	}
	for _, tc := range denied {
		require.False(t, tc.from.CanTransition(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusComplete.Terminal())
	require.True(t, StatusCanceled.Terminal())
	require.True(t, StatusError.Terminal())
	require.False(t, StatusCollectingURLs.Terminal())
	require.False(t, StatusAwaitingConfirm.Terminal())
	require.False(t, StatusParsingProducts.Terminal())
}

func TestRunParamsMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ModeSingleItem, RunParams{ProductURL: "https://x/p", CatalogURL: "https://x/c"}.Mode())
	require.Equal(t, ModeOneCatalog, RunParams{CatalogURL: "https://x/c"}.Mode())
	require.Equal(t, ModeAllCatalogs, RunParams{}.Mode())
}

func TestNewItemDefaultCategory(t *testing.T) {
	t.Parallel()

	item := NewItem("https://x/p", "Yarn")
	require.Equal(t, "https://x/p", item.URL)
	require.Equal(t, "Yarn", item.Category)
}
