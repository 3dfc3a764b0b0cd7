// Package memstore holds in-memory stores with the same atomicity contracts
// as the Postgres repositories. The service uses them when no database is
// configured.
package memstore
