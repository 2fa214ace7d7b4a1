package kwd

import "golang.org/x/sys/unix"

// fionread is FIONREAD; Linux spells it TIOCINQ
const fionread = unix.TIOCINQ
