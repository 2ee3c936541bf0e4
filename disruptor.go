package match

import (
	"context"
	"runtime"
	"sync/atomic"
)

// Consumer receives the events of a RingBuffer on its single consumer goroutine.
type Consumer[T any] interface {
	OnEvent(event T)
}

// RingBuffer is a bounded multi-producer single-consumer queue. Producers
// block (spin and yield) while the buffer is full.
type RingBuffer[T any] struct {
	_                [56]byte
	producerSequence atomic.Int64
	_                [56]byte
	consumerSequence atomic.Int64
	_                [56]byte

	buffer     []T
	bufferMask int64
	capacity   int64

	// published[i] holds the sequence written to slot i once it is readable.
	published []int64

	consumer Consumer[T]

	isShutdown atomic.Bool
	done       chan struct{}
}

// NewRingBuffer creates a ring buffer. capacity must be a power of 2.
func NewRingBuffer[T any](capacity int64, consumer Consumer[T]) (*RingBuffer[T], error) {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		return nil, ErrQueueCapacity
	}

	rb := &RingBuffer[T]{
		buffer:     make([]T, capacity),
		published:  make([]int64, capacity),
		capacity:   capacity,
		bufferMask: capacity - 1,
		consumer:   consumer,
		done:       make(chan struct{}),
	}

	rb.producerSequence.Store(-1)
	rb.consumerSequence.Store(-1)

	for i := range rb.published {
		atomic.StoreInt64(&rb.published[i], -1)
	}

	return rb, nil
}

// Publish claims a slot and writes the event. It is safe for concurrent
// producers and returns ErrShutdown once Shutdown was called.
func (rb *RingBuffer[T]) Publish(event T) error {
	if rb.isShutdown.Load() {
		return ErrShutdown
	}

	var nextSeq int64
	for {
		currentProducerSeq := rb.producerSequence.Load()
		nextSeq = currentProducerSeq + 1

		// a producer may not lap the consumer
		wrapPoint := nextSeq - rb.capacity
		if wrapPoint > rb.consumerSequence.Load() {
			if rb.isShutdown.Load() {
				return ErrShutdown
			}
			runtime.Gosched()
			continue
		}

		if rb.producerSequence.CompareAndSwap(currentProducerSeq, nextSeq) {
			break
		}
		runtime.Gosched()
	}

	index := nextSeq & rb.bufferMask
	rb.buffer[index] = event
	atomic.StoreInt64(&rb.published[index], nextSeq)
	return nil
}

// Start launches the consumer goroutine.
func (rb *RingBuffer[T]) Start() {
	go rb.consumerLoop()
}

// Shutdown stops accepting events and waits until every claimed event was
// consumed, or ctx is done.
func (rb *RingBuffer[T]) Shutdown(ctx context.Context) error {
	rb.isShutdown.Store(true)

	select {
	case <-ctx.Done():
		return ErrTimeout
	case <-rb.done:
		return nil
	}
}

func (rb *RingBuffer[T]) consumerLoop() {
	defer close(rb.done)
	nextConsumerSeq := rb.consumerSequence.Load() + 1

	for {
		availableSeq := rb.producerSequence.Load()

		if rb.isShutdown.Load() {
			rb.drain(nextConsumerSeq)
			return
		}

		processed := false
		for nextConsumerSeq <= availableSeq {
			rb.consume(nextConsumerSeq)
			nextConsumerSeq++
			processed = true
		}

		if !processed {
			runtime.Gosched()
		}
	}
}

func (rb *RingBuffer[T]) consume(seq int64) {
	index := seq & rb.bufferMask

	// the slot is claimed but may not be written yet
	for atomic.LoadInt64(&rb.published[index]) != seq {
		runtime.Gosched()
	}

	event := rb.buffer[index]
	var zero T
	rb.buffer[index] = zero
	rb.consumer.OnEvent(event)
	rb.consumerSequence.Store(seq)
}

func (rb *RingBuffer[T]) drain(nextConsumerSeq int64) {
	for nextConsumerSeq <= rb.producerSequence.Load() {
		rb.consume(nextConsumerSeq)
		nextConsumerSeq++
	}
}

// ConsumerSequence returns the last consumed sequence.
func (rb *RingBuffer[T]) ConsumerSequence() int64 {
	return rb.consumerSequence.Load()
}

// ProducerSequence returns the last claimed sequence.
func (rb *RingBuffer[T]) ProducerSequence() int64 {
	return rb.producerSequence.Load()
}

// Pending returns the number of claimed but unconsumed events.
func (rb *RingBuffer[T]) Pending() int64 {
	return rb.producerSequence.Load() - rb.consumerSequence.Load()
}
