//go:build linux && (386 || arm || mips || mipsle || ppc)

package socketcanfd

import "golang.org/x/sys/unix"

// mmsghdr mirrors the C struct mmsghdr which golang.org/x/sys/unix lacks.
// Hdr is 28 bytes, Len 4 bytes, padded to 32 bytes.
type mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
	pad [4]byte
}
