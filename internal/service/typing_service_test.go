package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypingService(t *testing.T, rt *fakeRealtime, clk *clock, opts TypingOptions) *TypingService {
	t.Helper()
	opts.Now = clk.Now
	s := NewTypingService(rt, "c1", testSelf, opts, nil, nil)
	require.NoError(t, s.Attach(context.Background()))
	t.Cleanup(func() { s.Detach(context.Background()) })
	return s
}

func typing(userId, conversationId string) typingPayload {
	return typingPayload{UserId: userId, UserName: "name-" + userId, ConversationId: conversationId}
}

func TestTypingExpiry(t *testing.T) {
	rt := newFakeRealtime()
	clk := newClock(baseTime)
	s := newTypingService(t, rt, clk, TypingOptions{TTL: 3 * time.Second, SweepInterval: time.Hour})
	sub := rt.sub(t, "typing:c1")

	sub.broadcast(t, "typing", typing("u2", "c1"))
	clk.Add(3 * time.Second)

	// exactly the ttl old is still typing
	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "u2", active[0].UserId)
	assert.Equal(t, 0, s.sweep())

	sub.broadcast(t, "typing", typing("u3", "c1"))
	clk.Add(time.Second)

	// u2 is now 4000ms old, u3 1000ms
	active = s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "u3", active[0].UserId)
	assert.Equal(t, "name-u3", active[0].UserName)

	assert.Equal(t, 1, s.sweep())
	assert.Len(t, s.Active(), 1)
}

func TestTypingIgnoresSelfAndOtherConversations(t *testing.T) {
	rt := newFakeRealtime()
	s := newTypingService(t, rt, newClock(baseTime), TypingOptions{SweepInterval: time.Hour})
	sub := rt.sub(t, "typing:c1")

	sub.broadcast(t, "typing", typing("me", "c1"))
	sub.broadcast(t, "typing", typing("u2", "c2"))
	sub.broadcast(t, "typing", typing("u3", "c1"))
	assert.Len(t, s.Active(), 1)

	sub.broadcast(t, "stop_typing", typing("u3", "c1"))
	assert.Empty(t, s.Active())
}

func TestTypingThrottleAndStop(t *testing.T) {
	rt := newFakeRealtime()
	s := newTypingService(t, rt, newClock(baseTime), TypingOptions{TTL: time.Hour, SweepInterval: time.Hour, Throttle: time.Hour})
	sub := rt.sub(t, "typing:c1")
	ctx := context.Background()

	require.NoError(t, s.StartTyping(ctx))
	require.NoError(t, s.StartTyping(ctx))
	require.NoError(t, s.StartTyping(ctx))
	assert.True(t, s.IsTyping())
	assert.Equal(t, []string{"typing"}, sub.events())

	require.NoError(t, s.StopTyping(ctx))
	require.NoError(t, s.StopTyping(ctx))
	assert.False(t, s.IsTyping())

	// a new burst always announces itself
	require.NoError(t, s.StartTyping(ctx))
	assert.Equal(t, []string{"typing", "stop_typing", "typing"}, sub.events())

	var p typingPayload
	require.NoError(t, sub.broadcasts[0].decode(&p))
	assert.Equal(t, typingPayload{UserId: "me", UserName: "Me", ConversationId: "c1"}, p)
}

func TestTypingAutoStop(t *testing.T) {
	rt := newFakeRealtime()
	s := newTypingService(t, rt, newClock(baseTime), TypingOptions{TTL: 30 * time.Millisecond, SweepInterval: time.Hour})
	sub := rt.sub(t, "typing:c1")

	require.NoError(t, s.StartTyping(context.Background()))

	assert.Eventually(t, func() bool { return len(sub.events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"typing", "stop_typing"}, sub.events())
	assert.False(t, s.IsTyping())
}

func TestTypingStaleExpiryKeepsNewBurst(t *testing.T) {
	rt := newFakeRealtime()
	s := newTypingService(t, rt, newClock(baseTime), TypingOptions{TTL: time.Hour, SweepInterval: time.Hour})
	sub := rt.sub(t, "typing:c1")
	ctx := context.Background()

	require.NoError(t, s.StartTyping(ctx))
	s.mu.Lock()
	stale := s.gen
	s.mu.Unlock()
	require.NoError(t, s.StopTyping(ctx))
	require.NoError(t, s.StartTyping(ctx))

	// the first burst's timer firing late must not end the second burst
	s.expire(stale)
	assert.True(t, s.IsTyping())
	assert.Equal(t, []string{"typing", "stop_typing", "typing"}, sub.events())

	s.mu.Lock()
	current := s.gen
	s.mu.Unlock()
	s.expire(current)
	assert.False(t, s.IsTyping())
	assert.Equal(t, []string{"typing", "stop_typing", "typing", "stop_typing"}, sub.events())
}

func TestTypingSweepLoop(t *testing.T) {
	rt := newFakeRealtime()
	clk := newClock(baseTime)
	s := newTypingService(t, rt, clk, TypingOptions{TTL: 3 * time.Second, SweepInterval: 5 * time.Millisecond})
	rt.sub(t, "typing:c1").broadcast(t, "typing", typing("u2", "c1"))

	clk.Add(5 * time.Second)
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.entries) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingDetachStopsTyping(t *testing.T) {
	rt := newFakeRealtime()
	s := NewTypingService(rt, "c1", testSelf, TypingOptions{TTL: time.Hour}, nil, nil)
	require.NoError(t, s.Attach(context.Background()))
	sub := rt.sub(t, "typing:c1")

	require.NoError(t, s.StartTyping(context.Background()))
	s.Detach(context.Background())

	assert.Equal(t, []string{"typing", "stop_typing"}, sub.events())
	assert.True(t, sub.unsubscribed)
	assert.Error(t, s.StartTyping(context.Background()))
	s.Detach(context.Background())
}
