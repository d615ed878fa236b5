//go:build !linux

package daemon

import (
	"errors"

	"github.com/standardbeagle/craftd/internal/transport"
)

func listenQueue(pidFile string) (transport.Listener, error) {
	return nil, errors.New("message queue transport requires linux")
}

func dialQueue(pidFile string) (transport.Conn, error) {
	return nil, errors.New("message queue transport requires linux")
}
