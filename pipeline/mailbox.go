package pipeline

import (
	"errors"
	"sync"
)

var ErrMailboxClosed = errors.New("mailbox closed")

type MailboxStats struct {
	Published   uint64
	Overwritten uint64
}

// Mailbox 单写者的最新值容器，新值覆盖旧值，读者永远拿到最新的一份。
// Notify 只适合单个消费者。
type Mailbox[T any] struct {
	mu          sync.RWMutex
	value       T
	has         bool
	seq         uint64
	taken       uint64
	closed      bool
	notify      chan struct{}
	overwritten uint64
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *Mailbox[T]) Publish(v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMailboxClosed
	}
	if m.has && m.taken < m.seq {
		m.overwritten++
	}
	m.value = v
	m.has = true
	m.seq++
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Latest 不消费，可以反复读取
func (m *Mailbox[T]) Latest() (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.has
}

func (m *Mailbox[T]) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Take 只有在上次 Take 之后有新值时才返回
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has || m.taken == m.seq {
		var zero T
		return zero, false
	}
	m.taken = m.seq
	return m.value, true
}

func (m *Mailbox[T]) Notify() <-chan struct{} {
	return m.notify
}

func (m *Mailbox[T]) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}

func (m *Mailbox[T]) Stats() MailboxStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MailboxStats{Published: m.seq, Overwritten: m.overwritten}
}
