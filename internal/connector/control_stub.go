//go:build !unix

package connector

import "syscall"

func bindControl(network, address string, c syscall.RawConn) error {
	return nil
}
