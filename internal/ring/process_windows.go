// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build windows

package ring

import (
	"os/exec"
	"syscall"
)

// setDetached uses CREATE_NEW_PROCESS_GROUP, the platform equivalent of
// Setsid, so the replacement process survives this one exiting.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200}
}
