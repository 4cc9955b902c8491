// Package frame encodes and decodes the title/payload wire frame.
//
// Layout: uint32 title length (big-endian) | UTF-8 title | payload.
// One transport-level message carries exactly one frame.
package frame
