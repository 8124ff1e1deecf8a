package proc

import "syscall"

// sysProcAttr puts the child in its own process group so a terminal Ctrl-C
// reaches only the parent, which then stops children in order. The kernel
// sends SIGINT if the parent dies first, so ffmpeg still finalizes its
// output instead of running orphaned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGINT}
}
