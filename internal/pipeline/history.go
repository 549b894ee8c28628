package pipeline

import (
	"time"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// SampleHistory ограниченный буфер сырых измерений с вытеснением старых.
// Не синхронизирован: доступ защищается блокировкой состояния маяка.
type SampleHistory struct {
	samples  []models.RawSample
	capacity int
}

// NewSampleHistory создает буфер заданной емкости
func NewSampleHistory(capacity int) *SampleHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &SampleHistory{
		samples:  make([]models.RawSample, 0, capacity),
		capacity: capacity,
	}
}

// Append добавляет измерение, вытесняя самое старое при переполнении
func (h *SampleHistory) Append(sample models.RawSample) {
	h.samples = append(h.samples, sample)
	if len(h.samples) > h.capacity {
		h.samples = h.samples[1:]
	}
}

// Window возвращает копию измерений в хвостовом временном окне
// от самого свежего измерения
func (h *SampleHistory) Window(duration time.Duration) []models.RawSample {
	if len(h.samples) == 0 {
		return nil
	}

	newest := h.samples[len(h.samples)-1].Timestamp
	cutoff := newest.Add(-duration)

	window := make([]models.RawSample, 0, len(h.samples))
	for _, sample := range h.samples {
		if !sample.Timestamp.Before(cutoff) {
			window = append(window, sample)
		}
	}
	return window
}

// Len возвращает текущий размер буфера
func (h *SampleHistory) Len() int {
	return len(h.samples)
}

// Clear очищает буфер
func (h *SampleHistory) Clear() {
	h.samples = h.samples[:0]
}
