// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package bare

import (
	"math"
	"runtime"
)

// Version is the release version reported in the instance manifest.
const Version = "1.0.0"

// Maintainer identifies who runs this instance.
type Maintainer struct {
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Project describes this implementation in the instance manifest.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Repository  string `json:"repository"`
	Version     string `json:"version"`
}

// Manifest is the JSON document served at the mount prefix root. Clients
// use it to discover which protocol versions the instance speaks.
type Manifest struct {
	Versions    []string    `json:"versions"`
	Language    string      `json:"language"`
	MemoryUsage float64     `json:"memoryUsage,omitempty"`
	Maintainer  *Maintainer `json:"maintainer,omitempty"`
	Project     *Project    `json:"project"`
}

// manifest assembles the instance manifest with live memory usage.
func (s *Server) manifest() Manifest {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usedMiB := math.Round(float64(ms.Alloc)/1024/1024*100) / 100

	return Manifest{
		Versions:    s.versions(),
		Language:    "Go",
		MemoryUsage: usedMiB,
		Maintainer:  s.opts.Maintainer,
		Project: &Project{
			Name:        "bare-server-go",
			Description: "TOMP bare server implementation in Go.",
			Repository:  "https://github.com/tomphttp/bare-server-go",
			Version:     Version,
		},
	}
}
