package pipeline

import (
	"sync"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// Broadcaster неблокирующая публикация результатов подписчикам.
// Новый подписчик сразу получает последний опубликованный результат,
// при переполнении буфера подписчика вытесняется самый старый результат.
// Медленный потребитель никогда не блокирует продюсера.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[int]chan models.EnrichedResult
	nextID     int
	last       *models.EnrichedResult
	bufferSize int
	dropped    int64
	closed     bool
}

// NewBroadcaster создает broadcaster с заданным буфером на подписчика
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broadcaster{
		subs:       make(map[int]chan models.EnrichedResult),
		bufferSize: bufferSize,
	}
}

// Subscribe регистрирует подписчика и возвращает канал результатов
// вместе с функцией отписки. Последний результат доставляется сразу.
func (b *Broadcaster) Subscribe() (<-chan models.EnrichedResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.EnrichedResult, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	// Replay последнего значения новому подписчику
	if b.last != nil {
		ch <- *b.last
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish рассылает результат всем подписчикам без блокировки
func (b *Broadcaster) Publish(result models.EnrichedResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.last = &result

	for _, ch := range b.subs {
		select {
		case ch <- result:
		default:
			// Буфер подписчика полон: вытесняем самый старый результат
			select {
			case <-ch:
				b.dropped++
			default:
			}
			select {
			case ch <- result:
			default:
				b.dropped++
			}
		}
	}
}

// Subscribers возвращает количество активных подписчиков
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped возвращает количество вытесненных результатов
func (b *Broadcaster) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close закрывает все каналы подписчиков
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
