// Package serial opens RS-485/RS-232 serial ports configured for OMRON G3PW
// power controllers and adapts them to the compoway.Transport interface.
//
// The zero Config selects the controller's factory communication settings
// (57600 baud, 7 data bits, even parity, 2 stop bits), so most deployments
// only need the device path:
//
//	port, err := serial.Open(serial.Config{Device: "/dev/ttyUSB0"})
//	if err != nil {
//		return err
//	}
//	defer port.Close()
//
// Port is safe to hand to a single compoway.Conn, which serializes all
// access; it is not safe for direct concurrent use.
package serial
