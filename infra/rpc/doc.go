// Package rpc carries the ring RPC surface between taxis over net/rpc with
// gob encoding. One TCP connection is kept per peer channel.
package rpc
