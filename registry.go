package polybus

import (
	"fmt"
	"reflect"
	"sync"
)

// registryEntry is one side of the bidirectional mapping kept by
// MessageRegistry.
type registryEntry struct {
	typ    reflect.Type
	info   MessageInfo
	header string
}

// MessageRegistry is a process-level (in practice, per-bus) bidirectional
// mapping between user Go types and MessageInfo. All operations hold an
// internal mutex; registration is expected to happen at configuration
// time, so contention is negligible at steady state.
type MessageRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*registryEntry
	byKey  map[InfoKey]*registryEntry
}

// NewMessageRegistry returns an empty registry.
func NewMessageRegistry() *MessageRegistry {
	return &MessageRegistry{
		byType: make(map[reflect.Type]*registryEntry),
		byKey:  make(map[InfoKey]*registryEntry),
	}
}

// Register associates a representative instance of a user type (commonly
// a pointer, e.g. &AlphaEvent{}) with a MessageInfo. It fails if the
// exact Go type has already been registered.
//
// If two distinct types are registered under MessageInfos that collide on
// InfoKey (kind, endpoint, name, major) — which the spec does not forbid,
// since only "a type twice" is rejected — the most recent registration
// owns that key for TypeFor/HeaderFor lookups.
func (r *MessageRegistry) Register(sample any, info MessageInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(sample)
	if t == nil {
		return fmt.Errorf("polybus: cannot register a nil sample")
	}
	if _, exists := r.byType[t]; exists {
		return fmt.Errorf("polybus: type %s is already registered", t)
	}

	entry := &registryEntry{typ: t, info: info, header: info.ToString(true)}
	r.byType[t] = entry
	r.byKey[info.Key()] = entry
	return nil
}

// InfoFor returns the MessageInfo registered for payload's concrete Go
// type.
func (r *MessageRegistry) InfoFor(payload any) (MessageInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := reflect.TypeOf(payload)
	entry, ok := r.byType[t]
	if !ok {
		return MessageInfo{}, NewMessageNotFoundError(fmt.Sprintf("no message info registered for type %v", t))
	}
	return entry.info, nil
}

// TypeFor returns the Go type registered under info's lookup identity
// (kind, endpoint, name, major) — version-compatible: minor/patch on the
// lookup key are ignored.
func (r *MessageRegistry) TypeFor(info MessageInfo) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byKey[info.Key()]
	if !ok {
		return nil, NewMessageNotFoundError(fmt.Sprintf("no type registered for %s", info.ToString(false)))
	}
	return entry.typ, nil
}

// HeaderFor returns the canonical with-version header string for the
// registered entry matching info's lookup identity. The version emitted
// is the one the type was actually registered with, not whatever
// minor/patch happened to be on the lookup key.
func (r *MessageRegistry) HeaderFor(info MessageInfo) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byKey[info.Key()]
	if !ok {
		return "", NewMessageNotFoundError(fmt.Sprintf("no header for %s", info.ToString(false)))
	}
	return entry.header, nil
}

// NewPayload allocates a new, zero-valued instance shaped like the type
// registered for info. If the registered sample was a pointer,
// NewPayload returns a pointer to a fresh zero value of the pointee;
// otherwise it returns a fresh zero value of the type itself.
func (r *MessageRegistry) NewPayload(info MessageInfo) (any, error) {
	t, err := r.TypeFor(info)
	if err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface(), nil
	}
	return reflect.New(t).Elem().Interface(), nil
}
