//go:build linux && (amd64 || arm64 || mips64 || mips64le || ppc64 || ppc64le || riscv64 || s390x)

package socketcanfd

import "golang.org/x/sys/unix"

// mmsghdr mirrors the C struct mmsghdr which golang.org/x/sys/unix lacks.
// Hdr is 56 bytes, Len 4 bytes, padded to 64 bytes.
type mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
	pad [4]byte
}
