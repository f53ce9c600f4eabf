//go:build !unix

package contentcache

func realStatfs(string) (uint64, uint64, error) {
	return 0, 0, nil
}
