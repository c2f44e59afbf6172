package interop

import (
	"reflect"

	"quill/internal/errors"
	"quill/internal/runtime"
)

// Object is a host value seen by scripts. Every member access goes through
// the descriptor, so denied members fail before the native value is touched.
type Object struct {
	registry *Registry
	desc     *Descriptor
	ptr      reflect.Value
}

var _ runtime.HostObject = (*Object)(nil)

// Wrap exposes v (a pointer, or a value that is copied) as a host object.
func (r *Registry) Wrap(v interface{}) (*Object, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.NewTypeError("cannot wrap nil")
	}
	if rv.Kind() != reflect.Ptr {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		rv = ptr
	}
	return r.wrap(rv)
}

func (r *Registry) wrap(ptr reflect.Value) (*Object, error) {
	if ptr.IsNil() {
		return nil, errors.NewTypeError("cannot wrap nil %s", ptr.Type())
	}
	desc, err := r.Describe(ptr.Type())
	if err != nil {
		return nil, err
	}
	return &Object{registry: r, desc: desc, ptr: ptr}, nil
}

func (r *Registry) wrapValue(ptr reflect.Value) (runtime.Value, error) {
	obj, err := r.wrap(ptr)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (*Object) Kind() runtime.Kind { return runtime.KindObject }

func (o *Object) TypeName() string { return o.desc.Name }

func (o *Object) Descriptor() *Descriptor { return o.desc }

// Unwrap returns the native pointer.
func (o *Object) Unwrap() interface{} { return o.ptr.Interface() }

// GetMember reads a field or returns a bound method.
func (o *Object) GetMember(name string) (runtime.Value, error) {
	m, err := o.member(name)
	if err != nil {
		return nil, err
	}
	if m.Kind == MemberMethod {
		method := o.ptr.Method(m.method)
		return &runtime.NativeFunction{
			Name:  o.desc.Name + "." + m.Name,
			Arity: m.Type.NumIn() - 1,
			Host:  method.Interface(),
			Fn: func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
				return o.registry.call(method, 0, args)
			},
		}, nil
	}
	field, err := o.field(m)
	if err != nil {
		return nil, err
	}
	return o.registry.toValue(field)
}

// SetMember assigns a field.
func (o *Object) SetMember(name string, v runtime.Value) error {
	m, err := o.member(name)
	if err != nil {
		return err
	}
	if m.Kind == MemberMethod {
		return errors.NewTypeError("cannot assign to method %s.%s", o.desc.Name, name)
	}
	field, err := o.field(m)
	if err != nil {
		return err
	}
	nv, err := o.registry.FromValue(v, m.Type)
	if err != nil {
		return err
	}
	field.Set(nv)
	return nil
}

// Call invokes a member by name.
func (o *Object) Call(name string, args []runtime.Value) (runtime.Value, error) {
	return Invoke(o.desc, o.ptr, name, args, o.registry)
}

func (o *Object) member(name string) (*Member, error) {
	m, ok := o.desc.Member(name)
	if !ok {
		return nil, errors.NewTypeError("%s has no member '%s'", o.desc.Name, name)
	}
	if m.Access == Deny {
		return nil, errors.NewAccessError(o.desc.Name, name)
	}
	return m, nil
}

func (o *Object) field(m *Member) (reflect.Value, error) {
	f, err := o.ptr.Elem().FieldByIndexErr(m.field)
	if err != nil {
		return reflect.Value{}, errors.NewTypeError("%s.%s: %v", o.desc.Name, m.Name, err)
	}
	return f, nil
}

// Invoke dispatches a call through desc on recv, a pointer to desc.Type. A
// field holding a function is callable too.
func Invoke(desc *Descriptor, recv reflect.Value, name string, args []runtime.Value, r *Registry) (runtime.Value, error) {
	m, ok := desc.Member(name)
	if !ok {
		return nil, errors.NewTypeError("%s has no member '%s'", desc.Name, name)
	}
	if m.Access == Deny {
		return nil, errors.NewAccessError(desc.Name, name)
	}
	if recv.Kind() != reflect.Ptr || recv.Type().Elem() != desc.Type {
		return nil, errors.NewTypeError("receiver %s is not *%s", recv.Type(), desc.Name)
	}
	if m.Kind == MemberMethod {
		return r.call(recv.Method(m.method), 0, args)
	}

	f, err := recv.Elem().FieldByIndexErr(m.field)
	if err != nil {
		return nil, errors.NewTypeError("%s.%s: %v", desc.Name, name, err)
	}
	if f.Kind() != reflect.Func || f.IsNil() {
		return nil, errors.NewTypeError("%s.%s is not a function", desc.Name, name)
	}
	return r.call(f, 0, args)
}
