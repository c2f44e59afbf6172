// Package interop exposes native Go values to scripts through per-type member
// tables. A table is built once per type and records, for every exported
// method and field, how to reach it and whether scripts may touch it.
package interop

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"quill/internal/errors"
	"quill/internal/runtime"
)

type Access int

const (
	Allow Access = iota
	Deny
)

func (a Access) String() string {
	if a == Deny {
		return "deny"
	}
	return "allow"
}

type MemberKind int

const (
	MemberMethod MemberKind = iota
	MemberField
)

func (k MemberKind) String() string {
	if k == MemberField {
		return "field"
	}
	return "method"
}

// Restricted lets a type deny members by Go name or script name.
type Restricted interface {
	RestrictedMembers() []string
}

// Member is one entry of a type's member table.
type Member struct {
	Name   string
	GoName string
	Kind   MemberKind
	Access Access
	Type   reflect.Type

	method int   // index in the pointer method set
	field  []int // index path for reflect.Value.FieldByIndex
}

// Descriptor is the member table for one native type.
type Descriptor struct {
	Type    reflect.Type
	Name    string
	Members map[string]*Member
}

// Member looks up a member by script name.
func (d *Descriptor) Member(name string) (*Member, bool) {
	m, ok := d.Members[name]
	return m, ok
}

// Names returns the allowed member names, sorted.
func (d *Descriptor) Names() []string {
	names := make([]string, 0, len(d.Members))
	for name, m := range d.Members {
		if m.Access == Allow {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Registry caches descriptors by type. It is safe for concurrent use and may
// be shared between engines.
type Registry struct {
	mu     sync.RWMutex
	descs  map[reflect.Type]*Descriptor
	builds int
}

func NewRegistry() *Registry {
	return &Registry{descs: make(map[reflect.Type]*Descriptor)}
}

var (
	valueType      = reflect.TypeOf((*runtime.Value)(nil)).Elem()
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	restrictedType = reflect.TypeOf((*Restricted)(nil)).Elem()
	rawFuncType    = reflect.TypeOf(func([]runtime.Value) (runtime.Value, error) { return nil, nil })
)

// Describe returns the member table for t, building and caching it on first
// use. Pointer types share the descriptor of their element type.
func (r *Registry) Describe(t reflect.Type) (*Descriptor, error) {
	if t == nil {
		return nil, errors.NewTypeError("cannot describe nil type")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	d, ok := r.descs[t]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.descs[t]; ok {
		return d, nil
	}
	d, err := buildDescriptor(t)
	if err != nil {
		return nil, err
	}
	r.descs[t] = d
	r.builds++
	return d, nil
}

// DescribeValue describes the dynamic type of v. A reflect.Type is described directly.
func (r *Registry) DescribeValue(v interface{}) (*Descriptor, error) {
	if t, ok := v.(reflect.Type); ok {
		return r.Describe(t)
	}
	return r.Describe(reflect.TypeOf(v))
}

// Len returns the number of cached descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descs)
}

// Builds returns how many descriptors were built, which never exceeds the
// number of distinct types described.
func (r *Registry) Builds() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builds
}

func buildDescriptor(t reflect.Type) (*Descriptor, error) {
	ptr := reflect.PtrTo(t)
	if t.Kind() != reflect.Struct && ptr.NumMethod() == 0 {
		return nil, errors.NewTypeError("cannot expose %s: not a struct and has no methods", t)
	}
	if t.Kind() != reflect.Struct {
		if err := checkType(t); err != nil {
			return nil, errors.NewTypeError("cannot expose %s: %v", t, err)
		}
	}

	d := &Descriptor{Type: t, Name: typeName(t), Members: make(map[string]*Member)}
	denied := restrictedNames(t)

	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous || !f.IsExported() {
				continue
			}
			name, deny := parseTag(f.Tag.Get("script"))
			if name == "" {
				name = scriptName(f.Name)
			}
			m := &Member{Name: name, GoName: f.Name, Kind: MemberField, Type: f.Type, field: f.Index}
			if deny || denied[f.Name] || denied[name] {
				m.Access = Deny
			} else if err := checkType(f.Type); err != nil {
				return nil, errors.NewTypeError("%s.%s: %v", d.Name, f.Name, err)
			}
			if err := d.add(m); err != nil {
				return nil, err
			}
		}
	}

	for i := 0; i < ptr.NumMethod(); i++ {
		meth := ptr.Method(i)
		if meth.Name == "RestrictedMembers" && ptr.Implements(restrictedType) {
			continue
		}
		name := scriptName(meth.Name)
		m := &Member{Name: name, GoName: meth.Name, Kind: MemberMethod, Type: meth.Type, method: i}
		if denied[meth.Name] || denied[name] {
			m.Access = Deny
		} else if err := checkFunc(meth.Type, 1); err != nil {
			return nil, errors.NewTypeError("%s.%s: %v", d.Name, meth.Name, err)
		}
		if err := d.add(m); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Descriptor) add(m *Member) error {
	if prev, ok := d.Members[m.Name]; ok {
		return errors.NewTypeError("%s: %s and %s both map to '%s'", d.Name, prev.GoName, m.GoName, m.Name)
	}
	d.Members[m.Name] = m
	return nil
}

// restrictedNames collects the names a Restricted type denies.
func restrictedNames(t reflect.Type) map[string]bool {
	out := map[string]bool{}
	ptr := reflect.PtrTo(t)
	if !ptr.Implements(restrictedType) {
		return out
	}
	for _, name := range reflect.New(t).Interface().(Restricted).RestrictedMembers() {
		out[name] = true
	}
	return out
}

// parseTag reads `script:"name,deny"`; "-" denies the field under its default name.
func parseTag(tag string) (name string, deny bool) {
	if tag == "" {
		return "", false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		return "", true
	}
	for _, opt := range parts[1:] {
		if opt == "deny" {
			deny = true
		}
	}
	return parts[0], deny
}

// scriptName converts a Go identifier to lowerCamelCase: Name -> name,
// URL -> url, HTTPServer -> httpServer.
func scriptName(goName string) string {
	runes := []rune(goName)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return goName
	case n == 1 || n == len(runes):
		// lower the whole leading run
	default:
		// keep the last capital of the run as the start of the next word
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

func typeName(t reflect.Type) string {
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
