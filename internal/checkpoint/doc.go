// Package checkpoint persists pipeline contexts between waves so interrupted
// runs can resume.
//
// The Store contract is a small keyed blob interface; the pipeline manager
// serializes contexts to JSON and neither knows nor cares which backend holds
// them. SQLiteStore is the durable implementation for daemon hosts;
// MemoryStore serves tests and hosts that opt out of persistence.
//
// The database is transient state for in-flight runs rather than an archive.
// Schema changes bump the version in sqlite.go; users delete the database to
// adopt a new schema.
package checkpoint
