// Package definition provides the immutable machine definition model: a flat
// table of state nodes parsed from a declarative YAML document and validated
// at load time. A Machine is parsed once per kind and safely shared, read
// only, across many concurrent instances; parent/child and transition targets
// are plain string id references, never pointers.
package definition
