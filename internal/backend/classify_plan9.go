//go:build plan9

package backend

// classifyPlatform on plan9 leans on the portable checks in Classify; plan9's
// syscall package doesn't expose POSIX errno constants the way unix does.
func classifyPlatform(err error) Kind {
	return KindNone
}
