//go:build unix

package udp

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isNoBuffers(err error) bool {
	return errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}
