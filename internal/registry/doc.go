// Package registry runs a WebSocket server that wraps each admitted
// connection in an endpoint.Endpoint and keeps the live set addressable by
// endpoint identity.
package registry
