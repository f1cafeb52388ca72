package service

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/pkg/constant"
)

// Reconciler periodically refetches the open conversation so missed events are repaired.
// A non-positive interval disables it.
type Reconciler struct {
	interval time.Duration
	messages *MessageService

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(interval time.Duration, messages *MessageService) *Reconciler {
	return &Reconciler{interval: interval, messages: messages}
}

// Enabled reports whether Start launches a loop
func (r *Reconciler) Enabled() bool {
	return r.interval > 0
}

// Start launches the refetch loop
func (r *Reconciler) Start() {
	if !r.Enabled() {
		return
	}
	r.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.done = make(chan struct{})
		go r.loop(ctx)
		log.CtxDebug(ctx, "reconciler started: conversation_id=%s, interval=%s", r.messages.ConversationId(), r.interval)
	})
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.messages.Refetch(ctx, constant.RefetchReconcile)
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for an in-flight refetch to return
func (r *Reconciler) Stop() {
	r.once.Do(func() {})
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
