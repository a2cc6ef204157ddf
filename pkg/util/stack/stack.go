// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stack captures and formats call stacks for diagnostics.
package stack

import (
	"fmt"
	"runtime"
	"strings"
)

const maxDepth = 32

// StackTrace is a stack of program counters, innermost frame first.
type StackTrace []uintptr

// Callers captures the calling goroutine's stack, skipping skip frames.
// skip == 0 starts at the caller of Callers.
func Callers(skip int) StackTrace {
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	return StackTrace(pcs[:n])
}

func (st StackTrace) String() string {
	if len(st) == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(st)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}
