// Package makefile holds a typed, ordered model of Makefile statements and renders it
// back to make syntax.
//
// Optional lists are plain string slices where nil means the field is absent and a non-nil
// empty slice means it is present but empty. The renderer keeps the two apart: an absent
// field is left out together with its separator, an empty one still emits the separator.
package makefile
