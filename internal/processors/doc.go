// Package processors ships the built-in document processors.
//
// They are deliberately small: sniff detects content types, checksum hashes
// file bytes, and wordcount derives plain-text statistics. Hosts register
// them with RegisterBuiltins; tests lean on them as realistic processors.
package processors
