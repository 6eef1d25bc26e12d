// Package registry maps namespaces to the backends that own them.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInvokePath = "/tools/call"
	DefaultHealthPath = "/health"
)

// ErrUnknownNamespace is matched by every *UnknownNamespaceError.
var ErrUnknownNamespace = errors.New("unknown namespace")

// UnknownNamespaceError is returned by Lookup for namespaces that are not registered.
type UnknownNamespaceError struct {
	Namespace string
}

func (e *UnknownNamespaceError) Error() string {
	return fmt.Sprintf("namespace %q is not registered", e.Namespace)
}

// Is lets errors.Is(err, ErrUnknownNamespace) succeed.
func (e *UnknownNamespaceError) Is(target error) bool {
	return target == ErrUnknownNamespace
}

// Entry locates the backend serving one namespace.
type Entry struct {
	Namespace   string
	BaseAddress *url.URL
	Timeout     time.Duration
	InvokePath  string
	HealthPath  string
}

// InvokeURL returns the tool-invocation endpoint of the backend.
func (e Entry) InvokeURL() string {
	return e.join(e.InvokePath, DefaultInvokePath)
}

// HealthURL returns the health-probe endpoint of the backend.
func (e Entry) HealthURL() string {
	return e.join(e.HealthPath, DefaultHealthPath)
}

func (e Entry) join(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	return e.BaseAddress.JoinPath(path).String()
}

type table map[string]Entry

// Registry is safe for concurrent use. Readers see either the table before a
// Reload or the one after, never a mix.
type Registry struct {
	current atomic.Pointer[table]
	writeMu sync.Mutex
}

// New creates a Registry holding entries.
func New(entries []Entry) (*Registry, error) {
	r := &Registry{}
	empty := table{}
	r.current.Store(&empty)
	if err := r.Reload(entries); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the entry registered for exactly namespace. It never splits
// or trims its argument: "os.linux" and "os" are unrelated keys.
func (r *Registry) Lookup(namespace string) (Entry, error) {
	t := *r.current.Load()
	entry, ok := t[namespace]
	if !ok {
		return Entry{}, &UnknownNamespaceError{Namespace: namespace}
	}
	return entry, nil
}

// Reload validates entries and replaces the whole table. On error the
// previous table keeps serving.
func (r *Registry) Reload(entries []Entry) error {
	next := make(table, len(entries))
	for i, e := range entries {
		if err := validate(e); err != nil {
			return fmt.Errorf("invalid registry entry %d: %w", i, err)
		}
		if _, dup := next[e.Namespace]; dup {
			return fmt.Errorf("invalid registry entry %d: duplicate namespace %q", i, e.Namespace)
		}
		next[e.Namespace] = e
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.current.Store(&next)
	return nil
}

// Entries returns the registered entries sorted by namespace.
func (r *Registry) Entries() []Entry {
	t := *r.current.Load()
	out := make([]Entry, 0, len(t))
	for _, e := range t {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// Len returns the number of registered namespaces.
func (r *Registry) Len() int {
	return len(*r.current.Load())
}

func validate(e Entry) error {
	if e.Namespace == "" {
		return errors.New("namespace is empty")
	}
	if e.BaseAddress == nil {
		return fmt.Errorf("namespace %q: base address is missing", e.Namespace)
	}
	if e.BaseAddress.Scheme != "http" && e.BaseAddress.Scheme != "https" {
		return fmt.Errorf("namespace %q: base address %q must be http or https", e.Namespace, e.BaseAddress)
	}
	if e.BaseAddress.Host == "" {
		return fmt.Errorf("namespace %q: base address %q has no host", e.Namespace, e.BaseAddress)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("namespace %q: timeout must be positive", e.Namespace)
	}
	return nil
}

// ParseEntry builds an Entry from string configuration values.
func ParseEntry(namespace, baseAddress string, timeout time.Duration) (Entry, error) {
	u, err := url.Parse(baseAddress)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse base address for %q: %w", namespace, err)
	}
	e := Entry{Namespace: namespace, BaseAddress: u, Timeout: timeout}
	if err := validate(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
