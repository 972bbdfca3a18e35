//go:build !unix

package media

import "os/exec"

// configureKill keeps the default exec.CommandContext behaviour of killing
// only the direct child.
func configureKill(*exec.Cmd) {}
