// Package memstore holds in-process implementations of every repository.
// They back the memory storage driver and most package tests. Values are
// copied on the way in and out so callers never share state with the store.
package memstore
