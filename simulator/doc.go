// Package simulator generates ride requests for the fleet and runs whole
// fleets of taxis inside one process.
package simulator
