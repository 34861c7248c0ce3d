// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !windows

package ring

import (
	"os/exec"
	"syscall"
)

// setDetached puts the replacement process in its own session so it
// survives this process exiting, the Unix fork/exec detach semantic spec
// calls for.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
