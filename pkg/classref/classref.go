package classref

import "strings"

// Type identifies a class under transformation. The canonical form is the
// internal name, slash separated ("com/example/Foo").
type Type struct {
	internal string
}

// FromInternal builds a Type from an internal name ("com/example/Foo").
func FromInternal(name string) Type {
	return Type{internal: name}
}

// FromBinary builds a Type from a binary name ("com.example.Foo").
func FromBinary(name string) Type {
	return Type{internal: strings.ReplaceAll(name, ".", "/")}
}

// FromDescriptor builds a Type from a field descriptor ("Lcom/example/Foo;").
// Array descriptors resolve to their element type. Primitive descriptors
// yield the zero Type.
func FromDescriptor(desc string) Type {
	for strings.HasPrefix(desc, "[") {
		desc = desc[1:]
	}
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return Type{internal: desc[1 : len(desc)-1]}
	}
	return Type{}
}

// Internal returns the slash-separated internal name.
func (t Type) Internal() string { return t.internal }

// Binary returns the dot-separated binary name.
func (t Type) Binary() string { return strings.ReplaceAll(t.internal, "/", ".") }

// Package returns the dot-separated package part, or "" for the default
// package.
func (t Type) Package() string {
	i := strings.LastIndexByte(t.internal, '/')
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(t.internal[:i], "/", ".")
}

// Simple returns the class name without its package.
func (t Type) Simple() string {
	i := strings.LastIndexByte(t.internal, '/')
	return t.internal[i+1:]
}

func (t Type) IsZero() bool { return t.internal == "" }

func (t Type) String() string { return t.internal }
