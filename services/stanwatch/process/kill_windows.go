// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

func configure(*exec.Cmd) {}

// terminate kills the whole process tree. PHPStan is typically launched via
// php.exe, which may fork workers that a plain TerminateProcess would orphan.
func terminate(p *os.Process) error {
	cmd := exec.Command("taskkill", "/pid", strconv.Itoa(p.Pid), "/T", "/F")
	if err := cmd.Run(); err != nil {
		return p.Kill()
	}
	return nil
}
