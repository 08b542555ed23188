// Package signal identifies measurement signals and maps them onto the
// 16-bit compact indices used on the wire.
//
// A Signal has a 128-bit identifier and a human-readable MeasurementKey
// ("SOURCE:ID"). An IndexCache is built once per subscription from the
// authorized signals and is never mutated afterwards; a changed signal list
// produces a new cache that replaces the old one wholesale.
package signal
