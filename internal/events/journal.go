package events

import (
	"context"
	"sync"
)

// Journal is an append-only event log read through cursors.
// A cursor is the absolute number of entries already consumed, so every reader sees every
// entry in order. A bounded journal forgets its oldest entries; a reader that falls that far
// behind resumes at the oldest entry still kept.
type Journal[T any] struct {
	mu       sync.RWMutex
	entries  []T
	offset   int // Absolute index of entries[0]
	capacity int // 0 keeps everything
	wake     chan struct{}
}

func NewJournal[T any]() *Journal[T] {
	return NewBoundedJournal[T](0)
}

// NewBoundedJournal keeps at least the newest capacity entries. Capacity 0 keeps everything.
func NewBoundedJournal[T any](capacity int) *Journal[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Journal[T]{
		capacity: capacity,
		wake:     make(chan struct{}),
	}
}

// Append adds an entry and wakes up all waiting readers. Returns the new length.
func (j *Journal[T]) Append(value T) int {
	j.mu.Lock()
	j.entries = append(j.entries, value)
	// Trimmed in batches so appends stay cheap
	if j.capacity > 0 && len(j.entries) >= 2*j.capacity {
		drop := len(j.entries) - j.capacity
		kept := make([]T, j.capacity, 2*j.capacity)
		copy(kept, j.entries[drop:])
		j.entries = kept
		j.offset += drop
	}
	n := j.offset + len(j.entries)
	close(j.wake)
	j.wake = make(chan struct{})
	j.mu.Unlock()
	return n
}

// Len returns the number of entries appended so far, including forgotten ones
func (j *Journal[T]) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.offset + len(j.entries)
}

// Oldest returns the cursor of the oldest entry still kept
func (j *Journal[T]) Oldest() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.offset
}

// Since returns a copy of the entries after cursor and the cursor to use next time.
// A negative cursor is treated as zero.
func (j *Journal[T]) Since(cursor int) ([]T, int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.sinceLocked(cursor)
}

// Wait blocks until there are entries after cursor or ctx is done
func (j *Journal[T]) Wait(ctx context.Context, cursor int) ([]T, int, error) {
	for {
		j.mu.RLock()
		if j.offset+len(j.entries) > cursor {
			entries, next := j.sinceLocked(cursor)
			j.mu.RUnlock()
			return entries, next, nil
		}
		wake := j.wake
		j.mu.RUnlock()

		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-wake:
		}
	}
}

func (j *Journal[T]) sinceLocked(cursor int) ([]T, int) {
	end := j.offset + len(j.entries)
	if cursor < j.offset {
		cursor = j.offset
	}
	if cursor >= end {
		return []T{}, end
	}
	result := make([]T, end-cursor)
	copy(result, j.entries[cursor-j.offset:])
	return result, end
}
