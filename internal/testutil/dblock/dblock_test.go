package dblock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrOverride(t *testing.T) {
	t.Setenv("DBLOCK_ADDR", "")
	assert.Equal(t, defaultAddr, Addr())

	t.Setenv("DBLOCK_ADDR", "127.0.0.1:45999")
	assert.Equal(t, "127.0.0.1:45999", Addr())
}

func TestAcquireExcludesSecondHolder(t *testing.T) {
	t.Setenv("DBLOCK_ADDR", "127.0.0.1:45998")

	release := Acquire()
	acquired := make(chan func(), 1)
	go func() { acquired <- Acquire() }()

	require.Never(t, func() bool { return len(acquired) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	release()

	var second func()
	require.Eventually(t, func() bool {
		select {
		case second = <-acquired:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	second()
}
