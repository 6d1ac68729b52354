package vm

import (
	"context"
	"fmt"
	"strings"
)

// Loader dispatches Instantiate to the host registered for the longest
// matching format prefix.
type Loader struct {
	routes []route
}

type route struct {
	prefix string
	host   Host
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Register routes formats beginning with prefix to h. A later registration
// of the same prefix replaces the earlier one.
func (l *Loader) Register(prefix string, h Host) *Loader {
	for i := range l.routes {
		if l.routes[i].prefix == prefix {
			l.routes[i].host = h
			return l
		}
	}
	l.routes = append(l.routes, route{prefix: prefix, host: h})
	return l
}

// Resolve returns the host for format.
func (l *Loader) Resolve(format string) (Host, error) {
	var best *route
	for i := range l.routes {
		r := &l.routes[i]
		if !strings.HasPrefix(format, r.prefix) {
			continue
		}
		if best == nil || len(r.prefix) > len(best.prefix) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return best.host, nil
}

// Instantiate implements Host.
func (l *Loader) Instantiate(ctx context.Context, bytecode []byte, opts Options) (Handle, error) {
	h, err := l.Resolve(opts.Format)
	if err != nil {
		return nil, err
	}
	return h.Instantiate(ctx, bytecode, opts)
}
