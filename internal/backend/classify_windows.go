//go:build windows

package backend

// classifyPlatform on Windows leans on the portable os.ErrPermission /
// os.ErrNotExist checks in Classify; Windows write-protect and removed-media
// conditions surface through those already in practice.
func classifyPlatform(err error) Kind {
	return KindNone
}
