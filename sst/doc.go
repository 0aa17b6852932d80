// Package sst implements TCPSST, a framing layer that carries an
// arbitrary number of logical, independently addressable,
// optionally reliable/ordered byte streams over a small fixed pool of
// TCP connections opened between two peers.
//
// The package is organized the way the teacher lineage (smux) lays out
// a multiplexer: frame.go and varint.go hold the wire codec, conn.go
// holds the per-TCP-connection write queue and read loop, session.go
// holds the Session (the "MultiplexedSocket" of the design), stream.go
// holds Stream (the "LogicalStream" handle), and listener.go accepts
// incoming peers and binds them to a new Session.
//
// sst depends on four small collaborator packages for the concerns
// the design notes treat as external: clock (time), subid
// (subscription handles), reactor (the callback-dispatch event loop),
// and sstlog (a tagged debug emitter). None of those packages are
// required to be any particular implementation; Connect and Listen
// take a reactor.Reactor and sstlog.Logger as parameters.
package sst
