// Package schema declares every wire message as a module tag plus an
// ordered list of typed positional parameters, and validates inbound
// values against those declarations.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/itsthedevman/esm-arma/internal/protocol"
)

const (
	requestSuffix  = "Request"
	responseSuffix = "Response"
)

type Param struct {
	Name string
	Type protocol.ParamType
}

type Message struct {
	Name   string
	Module string
	Params []Param
}

func (m Message) Types() []protocol.ParamType {
	out := make([]protocol.ParamType, len(m.Params))
	for i, p := range m.Params {
		out[i] = p.Type
	}
	return out
}

// Defaults returns one typed zero value per declared parameter.
func (m Message) Defaults() []protocol.Value {
	out := make([]protocol.Value, len(m.Params))
	for i, p := range m.Params {
		out[i] = protocol.Zero(p.Type)
	}
	return out
}

// Resolver answers whether an OBJECT reference names a live in-session entity.
// A non-nil error means the lookup itself failed and the answer is unknown.
type Resolver interface {
	Resolve(ctx context.Context, netID string) (bool, error)
}

type Registry struct {
	byName map[string]Message
	names  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Message{}}
}

// Add registers a message. Duplicate names and undeclared types are
// programming errors in the static table and are rejected.
func (r *Registry) Add(m Message) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("schema: empty message name")
	}
	if _, dup := r.byName[m.Name]; dup {
		return fmt.Errorf("schema: duplicate message %q", m.Name)
	}
	for i, p := range m.Params {
		if !p.Type.Valid() {
			return fmt.Errorf("schema: %s param %d: invalid type %q", m.Name, i, p.Type)
		}
	}
	r.byName[m.Name] = m
	r.names = append(r.names, m.Name)
	sort.Strings(r.names)
	return nil
}

// AddPair registers a request and its paired response. The response
// schema always starts with SCALAR response_code.
func (r *Registry) AddPair(module, base string, req []Param, resp []Param) error {
	if err := r.Add(Message{Name: base + requestSuffix, Module: module, Params: req}); err != nil {
		return err
	}
	full := append([]Param{{Name: "response_code", Type: protocol.ParamScalar}}, resp...)
	return r.Add(Message{Name: base + responseSuffix, Module: module, Params: full})
}

func (r *Registry) Lookup(name string) (Message, bool) {
	m, ok := r.byName[name]
	return m, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Requests lists the names of declared request messages in sorted order.
func (r *Registry) Requests() []string {
	var out []string
	for _, n := range r.names {
		if strings.HasSuffix(n, requestSuffix) {
			out = append(out, n)
		}
	}
	return out
}

// ResponseName derives the paired response name by swapping the directional suffix.
func ResponseName(request string) string {
	return strings.TrimSuffix(request, requestSuffix) + responseSuffix
}

func (r *Registry) Response(request string) (Message, bool) {
	if !strings.HasSuffix(request, requestSuffix) {
		return Message{}, false
	}
	return r.Lookup(ResponseName(request))
}

// Validate checks that name is a declared request, that the arity matches,
// that every value has exactly the declared kind, and that OBJECT values
// resolve. Kinds are never coerced.
func (r *Registry) Validate(ctx context.Context, name string, values []protocol.Value, resolver Resolver) error {
	m, ok := r.byName[name]
	if !ok || !strings.HasSuffix(name, requestSuffix) {
		return &Error{Kind: UnknownMessage, Message: name, Index: -1}
	}
	if len(values) != len(m.Params) {
		return &Error{Kind: ArityMismatch, Message: name, Index: -1, Want: fmt.Sprint(len(m.Params)), Got: fmt.Sprint(len(values))}
	}
	if err := checkKinds(m, values); err != nil {
		return err
	}
	for i, p := range m.Params {
		if p.Type != protocol.ParamObject {
			continue
		}
		ref := strings.TrimSpace(values[i].Ref)
		if ref == "" || resolver == nil {
			return &Error{Kind: UnresolvedReference, Message: name, Index: i, Param: p.Name, Got: ref}
		}
		found, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return fmt.Errorf("schema: resolve %s: %w", ref, err)
		}
		if !found {
			return &Error{Kind: UnresolvedReference, Message: name, Index: i, Param: p.Name, Got: ref}
		}
	}
	return nil
}

// ValidateResponse checks handler output against a response schema.
// OBJECT references are not resolved on the way out.
func (r *Registry) ValidateResponse(name string, values []protocol.Value) error {
	m, ok := r.byName[name]
	if !ok {
		return &Error{Kind: UnknownMessage, Message: name, Index: -1}
	}
	if len(values) != len(m.Params) {
		return &Error{Kind: ArityMismatch, Message: name, Index: -1, Want: fmt.Sprint(len(m.Params)), Got: fmt.Sprint(len(values))}
	}
	return checkKinds(m, values)
}

func checkKinds(m Message, values []protocol.Value) error {
	for i, p := range m.Params {
		if values[i].Type != p.Type {
			got := string(values[i].Type)
			if got == "" {
				got = "NIL"
			}
			return &Error{Kind: TypeMismatch, Message: m.Name, Index: i, Param: p.Name, Want: string(p.Type), Got: got}
		}
	}
	return nil
}
