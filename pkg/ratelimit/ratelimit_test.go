package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowUpToLimit(t *testing.T) {
	l := NewLimiter()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("conn-1", 5), "send %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("conn-1", 5), "send beyond the limit must be rejected")
}

func TestRejectedSendIsNotRecorded(t *testing.T) {
	l := NewLimiter()

	require.True(t, l.Allow("conn-1", 1))
	// 被拒绝的发送不应占用窗口配额
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("conn-1", 1))
	}
	assert.Equal(t, 0, l.Remaining("conn-1", 1))
}

func TestWindowRecoversAfterSixtySeconds(t *testing.T) {
	l := NewLimiter()
	now := time.Now()
	l.SetNowFunc(func() time.Time { return now })

	require.True(t, l.Allow("conn-1", 2))
	require.True(t, l.Allow("conn-1", 2))
	require.False(t, l.Allow("conn-1", 2))

	// 推过 60 秒窗口后容量恢复
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("conn-1", 2))
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter()

	require.True(t, l.Allow("conn-1", 1))
	require.False(t, l.Allow("conn-1", 1))
	assert.True(t, l.Allow("conn-2", 1), "a different key must not be affected")
}

func TestPurge(t *testing.T) {
	l := NewLimiter()

	require.True(t, l.Allow("conn-1", 1))
	require.False(t, l.Allow("conn-1", 1))

	l.Purge("conn-1")
	assert.True(t, l.Allow("conn-1", 1), "purge must reset the window")

	// 重复 purge 无副作用
	l.Purge("conn-1")
	l.Purge("never-seen")
}

func TestPurgeAll(t *testing.T) {
	l := NewLimiter()

	require.True(t, l.Allow("a", 1))
	require.True(t, l.Allow("b", 1))

	l.PurgeAll()
	assert.True(t, l.Allow("a", 1))
	assert.True(t, l.Allow("b", 1))
}
