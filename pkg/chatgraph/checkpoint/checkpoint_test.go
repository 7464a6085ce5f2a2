package checkpoint_test

import (
	"testing"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_MarshalRoundTrip(t *testing.T) {
	original := checkpoint.New("thread-1", 4, "model", []byte(`{"messages":[]}`), "tools")

	data, err := original.Marshal()
	require.NoError(t, err)

	decoded, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.Version, decoded.Version)
	assert.Equal(t, "thread-1", decoded.ThreadID)
	assert.Equal(t, 4, decoded.Step)
	assert.Equal(t, "model", decoded.NodeID)
	assert.Equal(t, "tools", decoded.NextNode)
	assert.JSONEq(t, `{"messages":[]}`, string(decoded.State))
	assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
}

func TestUnmarshal_NewerVersion(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte(`{"version": 99, "thread_id": "t", "step": 1, "state": {}}`))
	assert.ErrorIs(t, err, checkpoint.ErrVersionMismatch)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestCheckpoint_Info(t *testing.T) {
	c := checkpoint.New("thread-1", 2, "a", []byte(`{}`), "b")
	info := c.Info(128)

	assert.Equal(t, "thread-1", info.ThreadID)
	assert.Equal(t, 2, info.Step)
	assert.Equal(t, "a", info.NodeID)
	assert.Equal(t, "b", info.NextNode)
	assert.Equal(t, int64(128), info.Size)
}
