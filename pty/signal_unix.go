//go:build unix

package pty

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// The program is started as a session leader, so its pid is also the id of
// the process group that its children inherit.

// terminate asks the process group to exit: SIGHUP as a terminal hangup
// would, then SIGTERM for programs that ignore hangups.
func terminate(p *os.Process) error {
	errHup := signalGroup(p, unix.SIGHUP)
	errTerm := signalGroup(p, unix.SIGTERM)
	if errHup != nil && errTerm != nil {
		return errors.Join(errHup, errTerm)
	}
	return nil
}

func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// The group is gone; fall back to the leader in case it changed group.
		err = p.Signal(sig)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}
