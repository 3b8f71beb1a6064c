// Package flowcache provides a short-lived in-process cache of serialized
// sign-in flow state, used to avoid redundant storage round trips within a
// single turn or a quick succession of turns on the same host.
package flowcache
