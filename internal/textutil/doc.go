// Package textutil provides small text helpers shared by processors and
// notification formatting: lowercase tokenization for document statistics and
// token sanitization for tag-like fields.
package textutil
