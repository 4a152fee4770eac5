//go:build !windows

package config

// hide is a no-op: the leading dot already hides the directory.
func hide(string) error {
	return nil
}
