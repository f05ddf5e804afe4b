// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process runs the external analyser as a child process.
//
// A Handle wraps one spawned process. Its stdout and stderr are read line by
// line by two pump goroutines; each line is handed to the caller's listener
// and stdout is additionally accumulated so the final JSON report can be
// parsed once the process has exited.
//
// # Exit vs. failure
//
// A process that exits with a non-zero status is not an error. PHPStan exits
// with 1 whenever it reports problems, and its stdout still carries a valid
// report. Only a failure to start the process (missing binary, permission
// denied) is reported as an error, and it matches ErrSpawn:
//
//	h, err := process.Start(ctx, "php", args, process.Options{Dir: root})
//	if errors.Is(err, process.ErrSpawn) {
//	    // binary missing or not executable
//	}
//	info, err := h.Wait(ctx)
//
// # Cancellation
//
// Kill detaches both listeners before it signals the process, so output
// buffered by a process that is being superseded never reaches the caller.
// On Windows the process tree is terminated with taskkill because a direct
// kill leaves grandchildren spawned by intermediate shells running. Kill never
// fails loudly: racing a natural exit simply returns false.
//
// # Thread Safety
//
// Handle is safe for concurrent use. Listeners are called from the pump
// goroutines and must not call Kill on their own handle.
package process
