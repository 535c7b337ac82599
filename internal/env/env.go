// Package env locates the per-user directories of llpm.
package env

import (
	"os"
	"path/filepath"
)

// CacheDir returns the root of the default llpm directories,
// <UserCacheDir>/.llpm.
func CacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".llpm"), nil
}

// WorkDir returns the directory holding source and build trees.
func WorkDir() (string, error) {
	return cacheSubdir("work")
}

// StoreDir returns the default package store directory.
func StoreDir() (string, error) {
	return cacheSubdir("packages")
}

// RecipeDir returns the default recipe directory.
func RecipeDir() (string, error) {
	return cacheSubdir("recipes")
}

// ConfigDir returns the directory searched for the config file.
func ConfigDir() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, "llpm"), nil
}

func cacheSubdir(name string) (string, error) {
	root, err := CacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
