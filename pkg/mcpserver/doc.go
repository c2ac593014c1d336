// Package mcpserver exposes a tool registry over the Model Context Protocol.
//
// Messages are JSON-RPC 2.0. The same Server can be driven over stdio
// (newline-delimited JSON, see ServeStdio) or over websocket connections
// (see Handler and ListenAndServe). Every request runs on its own goroutine
// and every connection serializes its writes.
package mcpserver
