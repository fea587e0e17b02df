package eventbus

import (
	"context"
	"sync"
	"testing"
)

func TestPublishMessageRejectsWhenNotReady(t *testing.T) {
	// Concurrent publishers against an unconnected publisher must all be
	// turned away through the guarded state read, never dereference a nil
	// channel.
	p := &RabbitMQPublisher{done: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.PublishMessage(context.Background(), "order.committed", nil); err == nil {
				t.Error("expected an error from a publisher with no connection")
			}
		}()
	}
	wg.Wait()
}
