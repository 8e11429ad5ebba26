//go:build debug

// Package provides debug utilities
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"strings"
)

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		if len(args) == 0 {
			panic("assertion failed")
		}
		panic("assertion failed: " + fmt.Sprint(args...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		var sb strings.Builder
		sb.WriteString("assertion failed: ")
		fmt.Fprintf(&sb, format, args...)
		panic(sb.String())
	}
}

func Func(f func()) { f() }
