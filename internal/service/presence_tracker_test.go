package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/ecommunity/internal/realtime"
	"github.com/mbeoliero/ecommunity/pkg/errcode"
)

func TestPresenceTracker(t *testing.T) {
	rt := newFakeRealtime()
	clk := newClock(baseTime)
	p := NewPresenceTracker(rt, testSelf, "instance-1", nil, nil, clk.Now)

	require.NoError(t, p.Start(context.Background()))

	sub := rt.sub(t, "presence")
	assert.Equal(t, "me", sub.cfg.PresenceKey)
	require.Len(t, sub.tracked, 1)
	var tracked presencePayload
	require.NoError(t, json.Unmarshal(sub.tracked[0], &tracked))
	assert.Equal(t, presencePayload{UserId: "me", OnlineAt: "2026-03-01T12:00:00Z", SessionId: "instance-1"}, tracked)

	sub.h.OnPresenceSync(realtime.PresenceState{"me": nil, "u2": nil})
	assert.Equal(t, []string{"me", "u2"}, p.Online())

	sub.h.OnPresenceJoin("u3", nil)
	assert.True(t, p.IsOnline("u3"))

	// leave is trusted even if the identity has other sessions
	sub.h.OnPresenceLeave("u2", []realtime.PresenceMeta{{"phx_ref": "a"}})
	assert.False(t, p.IsOnline("u2"))

	sub.h.OnPresenceSync(realtime.PresenceState{"u4": nil})
	assert.Equal(t, []string{"u4"}, p.Online())

	p.Stop(context.Background())
	assert.Empty(t, p.Online())
	assert.True(t, sub.unsubscribed)
}

func TestPresenceTrackerJoinFailure(t *testing.T) {
	rt := newFakeRealtime()
	rt.fail["presence"] = errors.New("rejected")
	p := NewPresenceTracker(rt, testSelf, "", nil, nil, nil)

	err := p.Start(context.Background())
	assert.True(t, errors.Is(err, errcode.ErrChannelJoin))
	assert.NotPanics(t, func() { p.Stop(context.Background()) })
}
