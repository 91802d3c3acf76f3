package chatsync

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event names emitted by a Session.
const (
	EventConversationsUpdated = "conversations.updated"
	EventMessagesUpdated      = "messages.updated"
	EventLoadingChanged       = "loading.changed"
	EventError                = "error"
	EventScrollToEnd          = "scroll.end"
	EventLoginRequired        = "login.required"
	EventSendFailed           = "send.failed"
	EventPollingChanged       = "polling.changed"
)

// EventHandler receives session events. Payload types per event:
//
//	conversations.updated  []Conversation
//	messages.updated       []Message
//	loading.changed        LoadingState
//	error                  error
//	scroll.end             string (peer id)
//	login.required         string (action)
//	send.failed            error
//	polling.changed        bool
type EventHandler func(event string, payload any)

// LoadingState is the payload of loading.changed.
type LoadingState struct {
	Conversations bool
	Messages      bool
}

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
	log       zerolog.Logger
}

func newEmitter(log zerolog.Logger) *emitter {
	return &emitter{listeners: make(map[string][]EventHandler), log: log}
}

// On registers a handler for event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

// emit calls handlers synchronously, in registration order. A panicking handler
// is logged and does not affect the others.
func (e *emitter) emit(event string, payload any) {
	if e == nil {
		return
	}
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.listeners[event]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Str("event", event).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}
