// Package auth gates the admin endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
)

// DefaultAdminCode is the shared code accepted by the admin endpoints.
const DefaultAdminCode = "admin"

var ErrAccessDenied = errors.New("access denied")

// Checker decides whether a caller-supplied code grants access.
type Checker interface {
	Check(code string) error
}

// StaticCode accepts exactly one shared code.
type StaticCode struct {
	code string
}

func NewStaticCode(code string) StaticCode {
	return StaticCode{code: code}
}

func (s StaticCode) Check(code string) error {
	if s.code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		return ErrAccessDenied
	}
	return nil
}
