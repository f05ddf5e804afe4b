// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import "sync"

// Disposable releases a resource. Disposing twice is a no-op.
type Disposable interface {
	Dispose()
}

// DisposeFunc wraps fn so it runs at most once.
func DisposeFunc(fn func()) Disposable {
	return &onceDisposable{fn: fn}
}

type onceDisposable struct {
	once sync.Once
	fn   func()
}

func (d *onceDisposable) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

// DisposeAll disposes every non-nil item in reverse order.
func DisposeAll(items ...Disposable) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] != nil {
			items[i].Dispose()
		}
	}
}
