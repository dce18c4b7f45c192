package domain

import "context"

// SubscriptionEvent describes an observer joining or leaving a multiplexer.
type SubscriptionEvent struct {
	Thread         string `json:"thread,omitempty"`
	SubscriptionID string `json:"subscription_id"`
	// Err is nil for a normal close and wraps ErrStreamInterrupted or
	// ErrTracerClosed otherwise. Always nil on subscribe.
	Err error `json:"-"`
}

// TraceHooks defines callbacks for tracker observability.
// Hooks run synchronously on the goroutine that triggered them and must not block.
type TraceHooks struct {
	OnUpdate      func(context.Context, Update)
	OnBackfill    func(context.Context, *SubscriptionEvent, int)
	OnSubscribe   func(context.Context, *SubscriptionEvent)
	OnUnsubscribe func(context.Context, *SubscriptionEvent)
}

// Merge returns hooks that call h first, then other.
func (h TraceHooks) Merge(other TraceHooks) TraceHooks {
	return TraceHooks{
		OnUpdate: func(ctx context.Context, u Update) {
			if h.OnUpdate != nil {
				h.OnUpdate(ctx, u)
			}
			if other.OnUpdate != nil {
				other.OnUpdate(ctx, u)
			}
		},
		OnBackfill: func(ctx context.Context, e *SubscriptionEvent, n int) {
			if h.OnBackfill != nil {
				h.OnBackfill(ctx, e, n)
			}
			if other.OnBackfill != nil {
				other.OnBackfill(ctx, e, n)
			}
		},
		OnSubscribe: func(ctx context.Context, e *SubscriptionEvent) {
			if h.OnSubscribe != nil {
				h.OnSubscribe(ctx, e)
			}
			if other.OnSubscribe != nil {
				other.OnSubscribe(ctx, e)
			}
		},
		OnUnsubscribe: func(ctx context.Context, e *SubscriptionEvent) {
			if h.OnUnsubscribe != nil {
				h.OnUnsubscribe(ctx, e)
			}
			if other.OnUnsubscribe != nil {
				other.OnUnsubscribe(ctx, e)
			}
		},
	}
}
