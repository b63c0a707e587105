package tefutil

import "strings"

// FlattenErrors converts a slice of errors to a slice of strings.
func FlattenErrors(errs ...error) []string {
	if len(errs) <= 0 {
		return nil
	}
	strs := make([]string, len(errs))
	for i := range errs {
		strs[i] = errs[i].Error()
	}
	return strs
}

// JoinErrors renders errs as a single semicolon-separated line, or the empty
// string if there are no errors.
func JoinErrors(errs ...error) string {
	return strings.Join(FlattenErrors(errs...), "; ")
}
