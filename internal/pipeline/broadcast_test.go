package pipeline

import (
	"testing"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

func resultFor(rssi int) models.EnrichedResult {
	return models.EnrichedResult{
		Sample: models.RawSample{BeaconID: "beacon-1", Rssi: rssi},
	}
}

func TestSubscribeReplaysLastValue(t *testing.T) {
	b := NewBroadcaster(4)

	b.Publish(resultFor(-65))

	// Новый подписчик сразу получает последний результат
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	select {
	case result := <-ch:
		if result.Sample.Rssi != -65 {
			t.Errorf("replayed rssi = %d, want -65", result.Sample.Rssi)
		}
	default:
		t.Fatal("last value must be replayed immediately")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(2)

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Подписчик не читает: буфер переполняется, вытесняется старое
	b.Publish(resultFor(-61))
	b.Publish(resultFor(-62))
	b.Publish(resultFor(-63))
	b.Publish(resultFor(-64))

	if b.Dropped() == 0 {
		t.Error("overflow must be accounted as dropped results")
	}

	// Канал содержит самые свежие результаты
	first := <-ch
	second := <-ch
	if first.Sample.Rssi != -63 || second.Sample.Rssi != -64 {
		t.Errorf("expected newest results [-63, -64], got [%d, %d]",
			first.Sample.Rssi, second.Sample.Rssi)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(4)

	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel must be closed")
	}
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", b.Subscribers())
	}

	// Повторная отписка безопасна
	unsubscribe()
}

func TestCloseStopsPublishing(t *testing.T) {
	b := NewBroadcaster(4)

	ch, _ := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("close must close subscriber channels")
	}

	// Публикация после закрытия не паникует
	b.Publish(resultFor(-65))

	ch2, _ := b.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("subscription after close must return a closed channel")
	}
}
