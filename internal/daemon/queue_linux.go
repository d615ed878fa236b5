//go:build linux

package daemon

import "github.com/standardbeagle/craftd/internal/transport"

func listenQueue(pidFile string) (transport.Listener, error) {
	return transport.ListenQueue(pidFile)
}

func dialQueue(pidFile string) (transport.Conn, error) {
	return transport.DialQueue(pidFile)
}
