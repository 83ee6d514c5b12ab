// Package msgpack provides MessagePack encodings for tempo.
//
// StateSerializer encodes aggregate snapshots; it is the default snapshot encoding
// the application wires, since snapshots are read on every load and MessagePack is
// smaller and faster to decode than JSON. Serializer encodes event payloads for
// deployments that do not need human-readable event data.
//
// Basic usage:
//
//	store := tempo.New(adapter,
//	    tempo.WithStateSerializer(msgpack.NewStateSerializer()),
//	)
package msgpack

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tempohq/tempo"
)

// Ensure the encodings satisfy the core interfaces.
var (
	_ tempo.Serializer      = (*Serializer)(nil)
	_ tempo.Registrar       = (*Serializer)(nil)
	_ tempo.StateSerializer = (*StateSerializer)(nil)
)

// StateSerializer is a MessagePack tempo.StateSerializer.
// Struct fields are keyed by their msgpack tag, falling back to the json tag.
type StateSerializer struct{}

// NewStateSerializer returns a MessagePack snapshot encoding.
func NewStateSerializer() *StateSerializer {
	return &StateSerializer{}
}

// Name returns "msgpack".
func (*StateSerializer) Name() string { return "msgpack" }

// Marshal encodes the value pointed to by v.
func (*StateSerializer) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into the value pointed to by v.
func (*StateSerializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("tempo/msgpack: empty state")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Serializer is a MessagePack implementation of tempo.Serializer with a type registry.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewSerializer creates a new MessagePack Serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{
		registry: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry[eventType] = valueType(example)
}

// RegisterAll registers events under the names tempo.GetEventType gives them.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, example := range examples {
		s.registry[tempo.GetEventType(example)] = valueType(example)
	}
}

// Lookup returns the Go type registered for eventType.
func (s *Serializer) Lookup(eventType string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.registry[eventType]
	return t, ok
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, tempo.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, tempo.NewSerializationError(tempo.GetEventType(event), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to a value of the registered type.
// Unregistered types are an error: aggregates cannot apply untyped maps.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, tempo.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.Lookup(eventType)
	if !ok {
		return nil, tempo.NewEventTypeNotRegisteredError(eventType)
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, tempo.NewSerializationError(eventType, "deserialize", err)
	}
	return ptr.Elem().Interface(), nil
}

func valueType(example interface{}) reflect.Type {
	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
