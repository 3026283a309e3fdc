/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package stress

import (
	"fmt"
	"io"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/valyala/bytebufferpool"
)

// HostInfo records where a run happened. Fields gopsutil cannot read stay empty.
type HostInfo struct {
	Hostname   string
	Platform   string
	Kernel     string
	Arch       string
	LogicalCPU int
	GoMaxProcs int
}

// CollectHost reads HostInfo for the current machine.
func CollectHost() HostInfo {
	info := HostInfo{
		Arch:       runtime.GOARCH,
		GoMaxProcs: runtime.GOMAXPROCS(0),
	}
	if n, err := cpu.Counts(true); err == nil {
		info.LogicalCPU = n
	} else {
		log.Debugf("cpu counts: %v", err)
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
		info.Kernel = h.KernelVersion
	} else {
		log.Debugf("host info: %v", err)
	}
	return info
}

// WriteTo writes a human readable report of r.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	status := "OK"
	if !r.OK() {
		status = "FAILED"
	}
	fmt.Fprintf(buf, "markable stress: %s\n", status)
	fmt.Fprintf(buf, "  host:       %s (%s, kernel %s, %s)\n", r.Host.Hostname, r.Host.Platform, r.Host.Kernel, r.Host.Arch)
	fmt.Fprintf(buf, "  cpus:       %d logical, GOMAXPROCS %d\n", r.Host.LogicalCPU, r.Host.GoMaxProcs)
	fmt.Fprintf(buf, "  workers:    %d\n", r.Workers)
	fmt.Fprintf(buf, "  rounds:     %d\n", r.Rounds)
	fmt.Fprintf(buf, "  first wins: %d\n", r.FirstWins)
	fmt.Fprintf(buf, "  successes:  %d\n", r.Successes)
	fmt.Fprintf(buf, "  retries:    %d\n", r.Retries)
	fmt.Fprintf(buf, "  elapsed:    %v\n", r.Elapsed)
	for _, v := range r.Violations {
		fmt.Fprintf(buf, "  violation:  %s\n", v)
	}
	n, err := w.Write(buf.B)
	return int64(n), err
}
