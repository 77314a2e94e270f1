package core

import "path"

// ValidateKey checks that a session or story id is usable as a single path
// element in the filesystem and s3 stores.
func ValidateKey(id string) error {
	if id == "" || id == "." || id == ".." {
		return NewError(KindUserInput, "invalid id %q", id)
	}
	if path.Base(id) != id {
		return NewError(KindUserInput, "invalid id %q: must not be a path", id)
	}
	return nil
}
