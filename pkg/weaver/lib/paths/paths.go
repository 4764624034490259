// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package paths provides cross-platform path utilities for Weaver.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns the default corpus/vocabulary directory:
// ~/.weaver/data, or ./data when no home directory can be determined.
func DefaultDataDir() string {
	home := userHomeDir()
	if home == "" {
		return filepath.FromSlash("./data")
	}
	return filepath.Join(home, ".weaver", "data")
}

// DefaultTrainDir returns the default checkpoint directory:
// ~/.weaver/train, or ./train when no home directory can be determined.
func DefaultTrainDir() string {
	home := userHomeDir()
	if home == "" {
		return filepath.FromSlash("./train")
	}
	return filepath.Join(home, ".weaver", "train")
}

// userHomeDir returns the user's home directory in a cross-platform
// manner. On Windows, USERPROFILE is checked before $HOME because Git
// Bash/MSYS2 may export Unix-style paths that Windows APIs reject.
func userHomeDir() string {
	if runtime.GOOS == "windows" {
		if home := os.Getenv("USERPROFILE"); home != "" {
			return home
		}
		if drive, path := os.Getenv("HOMEDRIVE"), os.Getenv("HOMEPATH"); drive != "" && path != "" {
			return filepath.Join(drive, path)
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	home, _ := os.UserHomeDir()
	return home
}
