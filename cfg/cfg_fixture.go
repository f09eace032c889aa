// SPDX-License-Identifier: ice License 1.0

//go:build test

package cfg

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

const applicationYAML = "application.yaml"

func init() {
	mustInit(findAllApplicationConfigFiles()...)
}

func findAllApplicationConfigFiles() []string {
	var hints []string
	if p, err := os.Getwd(); err == nil {
		hints = append(hints, p)
	}
	if p, err := os.Executable(); err == nil {
		hints = append(hints, path.Dir(filepath.Join(p, "..")))
	}
	//nolint:dogsled // Only the file is needed.
	_, callerFile, _, _ := runtime.Caller(0)
	hints = append(hints, filepath.Join(filepath.Dir(callerFile), ".."), filepath.Join(filepath.Dir(callerFile), "..", ".."))

	var files []string
	for _, dir := range hints {
		for _, pattern := range []string{filepath.Join(dir, ".testdata", applicationYAML), filepath.Join(dir, applicationYAML)} {
			f, err := filepath.Glob(pattern)
			if err != nil {
				log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))

				continue
			}
			files = append(files, f...)
		}
	}

	return files
}
