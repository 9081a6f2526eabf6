// Package mcp defines the wire-level data types of the Model Context
// Protocol surface spoken by this server: the initialize handshake, the
// tools capability, and the shared content primitives.
//
// Only the subset of the protocol implemented by the streaming HTTP
// transport is modeled here. Types serialize directly to the JSON shapes
// defined by the protocol revision in ProtocolVersion.
package mcp
