//go:build !linux

package spill

import "os"

func adviseSequential(*os.File) {}
