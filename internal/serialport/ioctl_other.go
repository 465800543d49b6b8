//go:build !linux

package serialport

func tcsets2() uintptr { return 0 }
