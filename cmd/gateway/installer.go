package main

import (
	"os"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
)

// selfInstaller applies a firmware image by replacing the running process:
// the image is made executable and exec'd with a fresh argument vector so
// the next generation reports the bumped version number.
type selfInstaller struct {
	lg            *logrus.Entry
	configPath    string
	logLevel      string
	versionNumber int
}

// argv is the next generation's argument vector.
func (i *selfInstaller) argv(image string) []string {
	return []string{image, i.configPath, i.logLevel, strconv.Itoa(i.versionNumber + 1)}
}

// Install makes the image executable and execs it. It returns only on error.
func (i *selfInstaller) Install(image string) error {
	if err := os.Chmod(image, 0o755); err != nil {
		return err
	}
	i.lg.WithField("image", image).Info("replacing process with new firmware image")
	return syscall.Exec(image, i.argv(image), os.Environ())
}
