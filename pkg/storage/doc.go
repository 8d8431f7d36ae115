// Package storage selects the storage backend a work order transfers into.
//
// A Registry holds the available backends in registration order. The Selector
// assigns a backend to a work order in three steps:
//
//  1. sticky: the assigned backend is reachable and already holds the package
//  2. exact-progress: a backend holds the package at exactly the recorded progress
//  3. capacity: every backend with more free bytes than the transfer still needs
//     is revalidated against the work order's policy; the last passing one wins
//
// Switching backends in step 3 resets package progress. Every backend call goes
// through a Prober, which bounds it with a timeout, recovers panics and caches
// free capacity readings. A backend that fails a query is skipped.
//
// DirBackend serves a local directory and SFTPBackend a remote one.
package storage
