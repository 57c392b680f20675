package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

func TestIsLeaderFalseBeforeBootstrap(t *testing.T) {
	m := &Manager{nodeID: "node1"}
	assert.False(t, m.IsLeader())
	assert.Empty(t, m.LeaderAddr())
	assert.Nil(t, m.GetRaftStats())
}

// TestHandleFrameDropsWhenNotLeader reproduces the C5/C6/C7 leader
// gating rule: a non-leader replica must not touch the dispatcher or
// ingestor at all, so this must not panic even with both left nil.
func TestHandleFrameDropsWhenNotLeader(t *testing.T) {
	m := &Manager{nodeID: "node1"}
	err := m.HandleFrame(context.Background(), "oss1.example.com", wire.AgentToManager{
		Kind:      "SessionCreate",
		SessionID: "S1",
	})
	assert.NoError(t, err)
}
