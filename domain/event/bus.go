package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/metrics"
)

// Filter がfalseを返したハンドラは呼ばれない
type Filter[E Event] func(E) bool

type subscription struct {
	name string
	fn   func(context.Context, Event) error
}

type inviteCollector struct {
	name string
	fn   func(context.Context, GetInvites) ([]entity.User, error)
}

// Bus はプロセス内の同期型pub/sub
// 登録は起動時に行い、Publishは登録順に全ハンドラを呼ぶ
type Bus struct {
	mu         sync.RWMutex
	handlers   map[Type][]subscription
	collectors []inviteCollector
}

func NewBus() *Bus {
	return &Bus{
		handlers: map[Type][]subscription{},
	}
}

// Subscribe はイベント型Eのハンドラを登録する
func Subscribe[E Event](b *Bus, name string, handler func(context.Context, E) error, filters ...Filter[E]) {
	var zero E
	t := zero.Type()
	if t == TypeGetInvites {
		panic("get_invites is a collector event, use OnGetInvites")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], subscription{
		name: name,
		fn: func(ctx context.Context, ev Event) error {
			e, ok := ev.(E)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", ev, t)
			}
			for _, f := range filters {
				if !f(e) {
					return nil
				}
			}
			return handler(ctx, e)
		},
	})
}

// SenderIs はincident_updatedを送信元で絞り込む
func SenderIs(senders ...Sender) Filter[IncidentUpdated] {
	return func(e IncidentUpdated) bool {
		for _, s := range senders {
			if e.Sender == s {
				return true
			}
		}
		return false
	}
}

// Subscribers は登録済みハンドラ名を返す
func (b *Bus) Subscribers(t Type) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[t]))
	for _, s := range b.handlers[t] {
		names = append(names, s.name)
	}
	return names
}

// Publish は登録順にハンドラを呼ぶ。失敗したハンドラはログに残すだけで他のハンドラは止めない
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Type()]...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type())).Inc()
	for _, s := range subs {
		if err := b.invoke(ctx, ev, s); err != nil {
			metrics.HandlerFailures.WithLabelValues(string(ev.Type()), s.name).Inc()
			slog.Error("event handler failed",
				slog.String("event", string(ev.Type())),
				slog.String("handler", s.name),
				slog.Any("err", err),
			)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, ev Event, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, ev)
}

func (b *Bus) OnGetInvites(name string, fn func(context.Context, GetInvites) ([]entity.User, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collectors = append(b.collectors, inviteCollector{name: name, fn: fn})
}

// CollectInvites は全コレクタの結果をユーザーID単位で重複排除して返す
func (b *Bus) CollectInvites(ctx context.Context, ev GetInvites) []entity.User {
	b.mu.RLock()
	collectors := append([]inviteCollector(nil), b.collectors...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type())).Inc()
	seen := map[string]bool{}
	var users []entity.User
	for _, c := range collectors {
		got, err := b.collect(ctx, ev, c)
		if err != nil {
			metrics.HandlerFailures.WithLabelValues(string(ev.Type()), c.name).Inc()
			slog.Error("invite collector failed", slog.String("collector", c.name), slog.Any("err", err))
			continue
		}
		for _, u := range got {
			if u.ID == "" || seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			users = append(users, u)
		}
	}
	return users
}

func (b *Bus) collect(ctx context.Context, ev GetInvites, c inviteCollector) (users []entity.User, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.fn(ctx, ev)
}
