// Package compoway implements the host side of the OMRON CompoWay/F
// protocol as spoken by the G3PW power controller: frame encoding and
// decoding with BCC validation, the FINS-mini service commands the device
// supports, and a transaction manager that serializes command/response
// exchanges over a byte-stream transport.
//
// # Protocol Overview
//
// CompoWay/F is a half-duplex, master-initiated serial protocol carrying
// ASCII text frames:
//
//	Command:  [STX][node 2][sub-address 2][SID 1][MRC 2][SRC 2][params...][ETX][BCC]
//	Response: [STX][node 2][sub-address 2][end code 2][MRC 2][SRC 2][result 4][data...][ETX][BCC]
//
// The BCC (block check character) is the XOR of every byte after STX up to
// and including ETX. The node number addresses one unit on the line; the
// response echoes it together with the MRC/SRC service codes, which is how
// replies are matched to the command in flight.
//
// Register values travel as fixed-width ASCII hex in two's complement: four
// characters for word registers, eight for double-word registers.
//
// # Timeouts and Retries
//
// Two timers bound a transaction: the reply timeout covers the wait for the
// first response byte, and the char timeout covers each gap between bytes
// once the response has started. Reply timeouts, corrupt frames, and
// device-side receive errors consume attempts from the configured budget;
// the identical frame is re-sent until the budget is exhausted and the last
// error surfaces. Mismatched responses (stale replies, foreign nodes) retry
// on a separate desync budget.
//
// # Transports
//
// The Transport interface abstracts the byte stream. The serial package
// provides the production RS-485/RS-232 implementation; any stream honoring
// the (0, nil)-on-timeout Read contract can substitute.
package compoway
