// Package typereg resolves the type names carried by binary frames into domain
// objects.
//
// The domain layer registers one Decoder per type name at startup. Receivers
// using binary framing then look the name of every completed frame up and store
// the decoded object in the envelope. Frames naming an unregistered type are
// dropped by the receiver.
package typereg

import (
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrUnknownType indicates no decoder is registered for a type name.
	ErrUnknownType = errors.New("typereg: unknown type")
	// ErrDuplicateType indicates a decoder is already registered for a type name.
	ErrDuplicateType = errors.New("typereg: type already registered")
	// ErrNilDecoder indicates a nil decoder was passed to Register.
	ErrNilDecoder = errors.New("typereg: nil decoder")
)

// Decoder turns a payload into a domain object.
type Decoder func(payload []byte) (any, error)

// Resolver is the read side of a registry, as consumed by receivers.
type Resolver interface {
	// Decode resolves typeName and decodes payload with its decoder.
	// It returns an error wrapping ErrUnknownType when no decoder is registered.
	Decode(typeName string, payload []byte) (any, error)
}

// Registry maps type names to decoders. It is safe for concurrent use.
type Registry struct {
	decoders *xsync.MapOf[string, Decoder]
}

var _ Resolver = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{decoders: xsync.NewMapOf[string, Decoder]()}
}

// Register adds the decoder for typeName.
func (r *Registry) Register(typeName string, dec Decoder) error {
	if dec == nil {
		return fmt.Errorf("%w: %q", ErrNilDecoder, typeName)
	}

	if _, loaded := r.decoders.LoadOrStore(typeName, dec); loaded {
		return fmt.Errorf("%w: %q", ErrDuplicateType, typeName)
	}

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typeName string, dec Decoder) {
	if err := r.Register(typeName, dec); err != nil {
		panic(err)
	}
}

// Unregister removes the decoder for typeName and reports whether it existed.
func (r *Registry) Unregister(typeName string) bool {
	_, ok := r.decoders.LoadAndDelete(typeName)
	return ok
}

// Lookup returns the decoder registered for typeName.
func (r *Registry) Lookup(typeName string) (Decoder, bool) {
	return r.decoders.Load(typeName)
}

// Decode implements Resolver.
func (r *Registry) Decode(typeName string, payload []byte) (any, error) {
	dec, ok := r.decoders.Load(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}

	v, err := dec(payload)
	if err != nil {
		return nil, fmt.Errorf("typereg: decode %q: %w", typeName, err)
	}

	return v, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.decoders.Size())
	r.decoders.Range(func(name string, _ Decoder) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	return names
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return r.decoders.Size()
}

// Bytes is a Decoder returning a copy of the payload unchanged.
func Bytes(payload []byte) (any, error) {
	out := make([]byte, len(payload))
	copy(out, payload)

	return out, nil
}

// String is a Decoder returning the payload as a string.
func String(payload []byte) (any, error) {
	return string(payload), nil
}
