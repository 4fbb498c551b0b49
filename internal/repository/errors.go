// Package repository persists accounts. Every backend stores one record per
// email and overwrites it whole on Put; there is no version check, so two
// concurrent writers for the same email can lose an update.
package repository

import "errors"

// ErrNotFound is returned by Get when no account exists for the email.
var ErrNotFound = errors.New("account not found")

// ErrAlreadyExists is returned by Create when the email is already taken.
var ErrAlreadyExists = errors.New("account already exists")
