package signalr

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRecordsKeepsTrailingFragment(t *testing.T) {
	records, rest := splitRecords([]byte("{\"type\":6}\x1e{\"type\":1}\x1e{\"ty"))
	require.Len(t, records, 2)
	assert.Equal(t, `{"type":6}`, string(records[0]))
	assert.Equal(t, `{"type":1}`, string(records[1]))
	assert.Equal(t, `{"ty`, string(rest))
}

func TestWebsocketURLSwapsScheme(t *testing.T) {
	base, err := url.Parse("https://coordinator.example/hubs/worker?tenant=a")
	require.NoError(t, err)
	got, err := websocketURL(base, "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://coordinator.example/hubs/worker?id=abc&tenant=a", got)

	base, err = url.Parse("ftp://host/hub")
	require.NoError(t, err)
	_, err = websocketURL(base, "abc")
	assert.Error(t, err)
}
