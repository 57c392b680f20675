// Package transport implements the concrete agent/manager wire transport
// named in §6's "any transport satisfying the frame contract is
// acceptable" note. It supplies two shapes, each grounded on a distinct
// contract from original_source:
//
//   - Framed: a length-prefixed connection over net.Conn (TCP between
//     agent and manager), used to carry the wire package's tagged JSON
//     ManagerToAgent/AgentToManager frames. There is no length-prefixed
//     framing dependency anywhere in the retrieved example pack, so this
//     is a small stdlib net/bufio/encoding-binary codec rather than a
//     third-party library (see DESIGN.md's standard-library
//     justifications).
//   - LineStream: a bufio.Scanner-based newline-delimited JSON reader for
//     the scanner-socket Stream contract, grounded on the original's
//     device_scanner_client::stream_lines and emf-mailbox's line_stream —
//     both frame one JSON value per line over a Unix domain socket rather
//     than length-prefixing.
//
// Server wires Framed connections into pkg/dispatch's Sender interface,
// so the dispatcher can reach a connected agent by Fqdn without knowing
// about net.Conn at all.
package transport
