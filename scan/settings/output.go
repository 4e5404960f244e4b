package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/celskeggs/scanmx/scan/engine"
)

const autoNameLayout = "scan_2006-01-02_15-04-05"

// AutoName picks the first name of the form scan_<timestamp>[_(n)].dat not yet taken in dir.
func AutoName(dir string, now time.Time) string {
	base := now.Format(autoNameLayout)
	name := base + ".dat"
	for n := 1; exists(filepath.Join(dir, name)); n++ {
		name = fmt.Sprintf("%s_(%d).dat", base, n)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// PrepareOutput decides where the next scan is recorded and checks that it can be written there.
func PrepareOutput(o Output, now time.Time) (string, error) {
	dir := strings.TrimSpace(o.Dir)
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: output directory: %v", engine.ErrInvalidConfiguration, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", engine.ErrInvalidConfiguration, dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return "", fmt.Errorf("%w: cannot write into %s: %v", engine.ErrInvalidConfiguration, dir, err)
	}

	name := strings.TrimSpace(o.Name)
	if o.AutoName {
		name = AutoName(dir, now)
	}
	if name == "" {
		return "", fmt.Errorf("%w: no output file name", engine.ErrInvalidConfiguration)
	}
	path := filepath.Join(dir, name)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", engine.ErrInvalidConfiguration, path)
		}
		if err := unix.Access(path, unix.W_OK); err != nil {
			return "", fmt.Errorf("%w: cannot overwrite %s: %v", engine.ErrInvalidConfiguration, path, err)
		}
	}
	return path, nil
}
