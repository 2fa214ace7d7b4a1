package kwd

// fionread is FIONREAD, _IOR('f', 127, int), which x/sys does not export
// for darwin
const fionread = 0x4004667f
