package sse

import (
	"context"
	"sync"

	"ms-marketplace/internal/models"
)

const clientBuffer = 16

// CheckInEmitter fans accepted check-ins out to the live subscribers of an
// event.
type CheckInEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.CheckInEvent
}

func NewCheckInEmitter() *CheckInEmitter {
	return &CheckInEmitter{
		clients: make(map[string][]chan models.CheckInEvent),
	}
}

// Subscribe registers a client for eventID. The channel is closed once ctx
// is done.
func (e *CheckInEmitter) Subscribe(ctx context.Context, eventID string) <-chan models.CheckInEvent {
	clientChan := make(chan models.CheckInEvent, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, clientChan)
	}()

	return clientChan
}

// NotifyCheckIn broadcasts without blocking; a slow client misses events
// rather than stalling the scanner.
func (e *CheckInEmitter) NotifyCheckIn(_ context.Context, ev models.CheckInEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[ev.EventID] {
		select {
		case clientChan <- ev:
		default:
		}
	}
}

func (e *CheckInEmitter) remove(eventID string, clientChan chan models.CheckInEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients subscribed to an event.
func (e *CheckInEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
