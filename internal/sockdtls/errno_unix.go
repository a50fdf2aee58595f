//go:build unix

package sockdtls

import "golang.org/x/sys/unix"

const (
	errnoEAGAIN        = int(unix.EAGAIN)
	errnoEADDRNOTAVAIL = int(unix.EADDRNOTAVAIL)
	errnoEINVAL        = int(unix.EINVAL)
	errnoEADDRINUSE    = int(unix.EADDRINUSE)
	errnoEAFNOSUPPORT  = int(unix.EAFNOSUPPORT)
	errnoEHOSTUNREACH  = int(unix.EHOSTUNREACH)
	errnoENOBUFS       = int(unix.ENOBUFS)
	errnoENOMEM        = int(unix.ENOMEM)
	errnoETIMEDOUT     = int(unix.ETIMEDOUT)
	errnoECONNRESET    = int(unix.ECONNRESET)
	errnoENOTCONN      = int(unix.ENOTCONN)
	errnoEIO           = int(unix.EIO)
)
