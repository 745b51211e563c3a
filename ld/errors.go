// Package ld implements the atom-based object-file ingestion and relocation
// engine: parsing relocatable Mach-O objects into atoms, then patching those
// atoms' code buffers with final addresses once virtual addresses are known.
package ld

import (
	"errors"
	"fmt"
)

var (
	ErrNotObject                       = errors.New("ld: not an MH_OBJECT file")
	ErrUnsupportedCPU                  = errors.New("ld: unsupported cpu architecture")
	ErrMismatchedCPU                   = errors.New("ld: object cpu architecture does not match target")
	ErrUnexpectedRelocationType        = errors.New("ld: unexpected relocation type")
	ErrFailedToResolveRelocationTarget = errors.New("ld: failed to resolve relocation target")
	ErrOverflow                        = errors.New("ld: address arithmetic overflow")
	ErrTODOBranchIslands               = errors.New("ld: branch displacement exceeds range, branch islands not implemented")
)

// FormatError is returned when a Mach-O structure fails to parse; it carries
// the byte offset of the record so callers can point a user at the object.
type FormatError struct {
	Off int64
	Msg string
	Val interface{}
}

func (e *FormatError) Error() string {
	msg := e.Msg
	if e.Val != nil {
		msg += fmt.Sprintf(" '%v'", e.Val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.Off)
	return msg
}
