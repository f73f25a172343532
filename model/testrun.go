package model

import "fmt"

// TestCase describes a program that is snapshotted and restored under every
// restore configuration. It is built once from the catalog and never mutated.
type TestCase struct {
	// Language tag of the program (e.g. "python", "java")
	Lang string `json:"lang"`
	// Logical program name, shared by all argument variants
	Name string `json:"name"`
	// Optional argument variant name, disambiguates argument sets of the same program
	ArgName string `json:"arg_name,omitempty"`
	// Invocation used for the plain Linux baseline
	RawCommand string `json:"raw_command"`
	// Invocation used under the snapshot driver (RawCommand after the transform)
	Command string `json:"command"`
	// Payload passed to the function on every invocation
	Args string `json:"args"`
	// Number of checkpoints the target raises before it is snapshotted
	StopCount int `json:"stop_count"`
}

// Key is the identity of a TestCase within a registry.
type Key struct {
	Lang    string
	Name    string
	ArgName string
}

// Key returns the identity key of the test.
func (t TestCase) Key() Key {
	return Key{Lang: t.Lang, Name: t.Name, ArgName: t.ArgName}
}

// ID returns the flat identifier used for artifact paths, function names and
// as the back-reference key of kernel statistics.
func (t TestCase) ID() string {
	if t.ArgName != "" {
		return fmt.Sprintf("%s_%s_%s", t.Lang, t.Name, t.ArgName)
	}
	return fmt.Sprintf("%s_%s", t.Lang, t.Name)
}

func (t TestCase) String() string {
	s := fmt.Sprintf("%s: lang=%s, id=%s", t.Name, t.Lang, t.ID())
	if t.ArgName != "" {
		s += " arg_name=" + t.ArgName
	}
	return s
}
