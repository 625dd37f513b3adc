// Package g3pw is a typed client for the OMRON G3PW power controller.
//
// The package maps the controller's registers to logical snake_case names
// through an immutable catalog, converts between raw wire counts and
// engineering values per register, and exposes the device's services
// (variable area reads and writes, status, attribute read, echo-back test,
// operation commands) as methods on a Client.
//
// # Connecting
//
// Connect opens the serial port, verifies the controller identifies itself
// as a G3PW, and returns a ready Client:
//
//	client, err := g3pw.Connect(ctx, &g3pw.Config{Device: "/dev/ttyUSB0"})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	pv, err := client.Read(ctx, "present_value")
//
// The zero Config selects the controller's factory communication settings;
// only the device path is required. NewClient builds a Client over a
// caller-supplied transport instead, which is how tests substitute a
// scripted device.
//
// # Registers
//
// Register names follow the communications manual: monitor values such as
// "input_monitor" and "current_monitor" are read-only; operation-level
// settings such as "main_setting_1" and "output_upper_limit" are writable
// while communications writing is enabled; initial-setting-level parameters
// such as "comm_baud_rate" additionally require the controller to be in
// setting area 1. Write values are range-checked against the documented
// register domains before any wire traffic.
//
// All Client methods are safe for concurrent use; transactions serialize on
// the underlying connection.
package g3pw
