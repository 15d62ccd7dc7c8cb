// Package pubsub реализует внутрипроцессную шину уведомлений об изменениях
// данных. Подписчики получают только тему изменения и сами перечитывают
// актуальное состояние.
package pubsub

import "sync"

// Topic обозначает категорию изменившихся данных.
type Topic string

const (
	TopicState    Topic = "state"
	TopicProjects Topic = "projects"
	TopicUsers    Topic = "users"
)

const subscriberBuffer = 16

// Broker рассылает уведомления всем активным подписчикам.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Topic]struct{}
}

// NewBroker создаёт новую шину без подписчиков.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[chan Topic]struct{}),
	}
}

// Subscribe регистрирует подписчика и возвращает канал уведомлений и функцию
// отписки. Функцию отписки необходимо вызвать, иначе подписчик останется в
// списке рассылки навсегда.
func (b *Broker) Subscribe() (<-chan Topic, func()) {
	ch := make(chan Topic, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Publish отправляет тему всем подписчикам. Отправка неблокирующая:
// уведомление медленному подписчику с переполненным буфером пропускается,
// он догонит состояние при следующем событии.
func (b *Broker) Publish(t Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
