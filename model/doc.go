// Package model defines the shared identifiers and record types of the
// revgo engine: documents, version numbers, version records and the
// read-model summaries derived from them.
//
// The package is dependency-free so that every layer (block store, delta
// codec, engine, facade) can exchange these types without import cycles.
package model
