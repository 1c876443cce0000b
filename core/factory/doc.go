// Package factory instantiates pluggable modules (metrics sinks, ride
// sources) from configuration. A module is named by a type string and
// carries a map of raw settings that its factory decodes with Decode.
package factory
