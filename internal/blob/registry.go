// Package blob tracks image bytes behind short-lived handles.
//
// A transient handle ("blob:<uuid>") is valid only for the lifetime of the
// process and must be released by its owner. Several handles may point at the
// same bytes; the bytes are dropped once the last handle is released. Embedded
// references ("data:<mime>;base64,...") carry their bytes inline and need no
// release.
package blob

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	transientPrefix = "blob:"
	dataPrefix      = "data:"
)

var (
	// ErrUnknownRef is returned when a transient handle was never created or has been released.
	ErrUnknownRef = errors.New("unknown or released image reference")

	// ErrMalformedRef is returned for references that are neither transient nor embedded.
	ErrMalformedRef = errors.New("malformed image reference")
)

// Ref identifies image bytes, either through the registry or inline.
type Ref string

// IsTransient reports whether r is a registry handle that must be released.
func (r Ref) IsTransient() bool {
	return strings.HasPrefix(string(r), transientPrefix)
}

// IsEmbedded reports whether r carries its bytes inline.
func (r Ref) IsEmbedded() bool {
	return strings.HasPrefix(string(r), dataPrefix)
}

// ID returns the handle id of a transient reference, or "" otherwise.
func (r Ref) ID() string {
	if !r.IsTransient() {
		return ""
	}
	return strings.TrimPrefix(string(r), transientPrefix)
}

// FromID rebuilds a transient reference from its handle id.
func FromID(id string) Ref {
	return Ref(transientPrefix + id)
}

// Image is a resolved reference.
type Image struct {
	Data []byte
	MIME string
}

type object struct {
	data []byte
	mime string
	refs int
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*object
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*object)}
}

// Create stores data and returns a new transient handle owning it.
func (r *Registry) Create(data []byte, mime string) Ref {
	obj := &object{data: data, mime: mime, refs: 1}
	id := uuid.NewString()

	r.mu.Lock()
	r.handles[id] = obj
	r.mu.Unlock()

	return FromID(id)
}

// Duplicate returns a fresh handle to the bytes behind ref. The caller owns
// the new handle. Embedded references are returned unchanged.
func (r *Registry) Duplicate(ref Ref) (Ref, error) {
	if ref.IsEmbedded() {
		return ref, nil
	}
	if !ref.IsTransient() {
		return "", fmt.Errorf("duplicate %q: %w", ref, ErrMalformedRef)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.handles[ref.ID()]
	if !ok {
		return "", fmt.Errorf("duplicate %q: %w", ref, ErrUnknownRef)
	}
	obj.refs++
	id := uuid.NewString()
	r.handles[id] = obj
	return FromID(id), nil
}

// Release invalidates a transient handle. Releasing an embedded, empty or
// already released reference is a no-op.
func (r *Registry) Release(ref Ref) {
	if !ref.IsTransient() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.handles[ref.ID()]
	if !ok {
		return
	}
	delete(r.handles, ref.ID())
	obj.refs--
	if obj.refs == 0 {
		obj.data = nil
	}
}

// Open resolves ref to its bytes.
func (r *Registry) Open(ref Ref) (Image, error) {
	switch {
	case ref.IsEmbedded():
		return decodeDataRef(ref)
	case ref.IsTransient():
		r.mu.Lock()
		defer r.mu.Unlock()
		obj, ok := r.handles[ref.ID()]
		if !ok {
			return Image{}, fmt.Errorf("open %q: %w", ref, ErrUnknownRef)
		}
		return Image{Data: obj.data, MIME: obj.mime}, nil
	default:
		return Image{}, fmt.Errorf("open %q: %w", ref, ErrMalformedRef)
	}
}

// Embed converts ref into a self-contained data reference.
func (r *Registry) Embed(ref Ref) (Ref, error) {
	if ref.IsEmbedded() {
		return ref, nil
	}
	img, err := r.Open(ref)
	if err != nil {
		return "", err
	}
	return EncodeDataRef(img.Data, img.MIME), nil
}

// Same reports whether a and b resolve to the same underlying image.
func (r *Registry) Same(a, b Ref) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if !a.IsTransient() || !b.IsTransient() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	oa, okA := r.handles[a.ID()]
	ob, okB := r.handles[b.ID()]
	return okA && okB && oa == ob
}

// Live returns the number of unreleased transient handles.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// EncodeDataRef builds an embedded reference for data.
func EncodeDataRef(data []byte, mime string) Ref {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return Ref(dataPrefix + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func decodeDataRef(ref Ref) (Image, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(string(ref), dataPrefix), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return Image{}, fmt.Errorf("decode data reference: %w", ErrMalformedRef)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data reference: %w", err)
	}
	return Image{Data: data, MIME: strings.TrimSuffix(header, ";base64")}, nil
}
