package proxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avalb/internal/upstream"
)

func makeTargets(t *testing.T, raws ...string) []*upstream.Target {
	t.Helper()
	targets := make([]*upstream.Target, 0, len(raws))
	for _, raw := range raws {
		endpoint, err := url.Parse(raw)
		require.NoError(t, err)
		targets = append(targets, upstream.NewTarget(endpoint))
	}
	return targets
}

func TestSelector_RoundRobin(t *testing.T) {
	targets := makeTargets(t,
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
		"http://127.0.0.1:3003",
	)
	selector := NewSelector()

	var got []string
	for i := 0; i < 6; i++ {
		target, err := selector.Select(targets)
		require.NoError(t, err)
		got = append(got, target.Endpoint().String())
	}

	assert.Equal(t, []string{
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
		"http://127.0.0.1:3003",
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
		"http://127.0.0.1:3003",
	}, got)
}

func TestSelector_SkipsUnhealthy(t *testing.T) {
	targets := makeTargets(t,
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
		"http://127.0.0.1:3003",
	)
	targets[1].SetHealthy(false)

	selector := NewSelector()

	var got []string
	for i := 0; i < 4; i++ {
		target, err := selector.Select(targets)
		require.NoError(t, err)
		got = append(got, target.Endpoint().String())
	}

	assert.Equal(t, []string{
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3003",
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3003",
	}, got)
}

func TestSelector_RecoveredTargetRejoinsRotation(t *testing.T) {
	targets := makeTargets(t,
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
	)
	targets[1].SetHealthy(false)

	selector := NewSelector()

	first, err := selector.Select(targets)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:3001", first.Endpoint().String())

	targets[1].SetHealthy(true)

	second, err := selector.Select(targets)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:3002", second.Endpoint().String(),
		"recovered target is eligible on the very next selection")
}

func TestSelector_AllUnhealthy(t *testing.T) {
	targets := makeTargets(t, "http://127.0.0.1:3001", "http://127.0.0.1:3002")
	for _, target := range targets {
		target.SetHealthy(false)
	}

	selector := NewSelector()

	target, err := selector.Select(targets)
	assert.Nil(t, target)
	assert.ErrorIs(t, err, ErrNoHealthyBackend)
}

func TestSelector_EmptyPool(t *testing.T) {
	selector := NewSelector()

	target, err := selector.Select(nil)
	assert.Nil(t, target)
	assert.ErrorIs(t, err, ErrNoHealthyBackend)

	target, err = selector.Select([]*upstream.Target{})
	assert.Nil(t, target)
	assert.ErrorIs(t, err, ErrNoHealthyBackend)
}

func TestSelector_CursorSurvivesShrinkingHealthySet(t *testing.T) {
	targets := makeTargets(t,
		"http://127.0.0.1:3001",
		"http://127.0.0.1:3002",
		"http://127.0.0.1:3003",
	)
	selector := NewSelector()

	// Advance the cursor past index 0.
	_, err := selector.Select(targets)
	require.NoError(t, err)
	_, err = selector.Select(targets)
	require.NoError(t, err)

	// Shrink the healthy set below the cursor value.
	targets[1].SetHealthy(false)
	targets[2].SetHealthy(false)

	target, err := selector.Select(targets)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:3001", target.Endpoint().String(),
		"stale cursor is reduced modulo the healthy-set size")
}
