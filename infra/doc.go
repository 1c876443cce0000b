// Package infra groups the adapters of the taxi core: the net/rpc ring
// transport, the MQTT district topics, the admin registry client, logging
// and the metrics exporters. They depend only on the contracts of the core
// packages.
package infra
