//go:build !unix

package udp

func isNoBuffers(error) bool { return false }
