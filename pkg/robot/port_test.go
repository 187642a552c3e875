package robot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A port with no bus panics on any I/O, so these cover the paths that must
// fail before touching the hardware.
func TestPort_NodeAfterCloseTouchesNoHardware(t *testing.T) {
	p := &Port{path: "/dev/null", refs: 2, closed: true, nodes: make(map[int]*Node)}

	_, err := p.Node(context.Background(), LocoLeft, MotorCalibration{ID: 1})
	require.ErrorIs(t, err, ErrPortClosed)
	assert.Equal(t, 2, p.refs, "no reference taken")
	assert.Empty(t, p.nodes)
}

func TestPort_AcquireRelease(t *testing.T) {
	p := &Port{path: "/dev/null", refs: 1, nodes: make(map[int]*Node)}

	require.NoError(t, p.acquire())
	assert.Equal(t, 2, p.refs)
	require.NoError(t, p.release())
	assert.Equal(t, 1, p.refs)

	p.closed = true
	assert.ErrorIs(t, p.acquire(), ErrPortClosed)

	p.closed = false
	p.refs = 0
	assert.ErrorIs(t, p.acquire(), ErrPortClosed)
}
