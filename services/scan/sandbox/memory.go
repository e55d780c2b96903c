// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"fmt"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// heapObjectsMetric is the runtime metric sampled by the memory watchdog:
// bytes occupied by heap objects, live or not yet swept.
const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

const defaultMemorySampleInterval = 10 * time.Millisecond

func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// watchMemory samples the heap every interval and calls interrupt once
// when it has grown more than limit bytes since the call. A sample over
// the limit is confirmed after a collection, so garbage alone does not
// trip the budget.
//
// The returned function stops the watchdog and waits for it to exit.
func watchMemory(limit uint64, interval time.Duration, interrupt func(error)) func() {
	if interval <= 0 {
		interval = defaultMemorySampleInterval
	}
	base := heapBytes()
	grown := func() uint64 {
		if used := heapBytes(); used > base {
			return used - base
		}
		return 0
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if grown() <= limit {
					continue
				}
				runtime.GC()
				if g := grown(); g > limit {
					interrupt(fmt.Errorf("%w: heap grew by %d bytes, limit is %d", ErrMemoryBudget, g, limit))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
