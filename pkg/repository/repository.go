// Package repository provides transactional key-value stores backing the persistent memory.
// All backends order keys of a bucket bytewise so that cursor scans can walk them in order.
package repository

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
)

var (
	_ interfaces.KV = (*Memory)(nil)
	_ interfaces.KV = (*Redis)(nil)
	_ interfaces.KV = (*Firestore)(nil)
)

var errEmptyName = goerr.New("bucket and key must not be empty")

func validateName(bucket, key string) error {
	if bucket == "" || key == "" {
		return goerr.Wrap(errEmptyName, "invalid name", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return nil
}
