// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package clientreg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/resourcetuner/urm/internal/structs"
)

// DefaultTrustFunc resolves a pid's trust level by reading the
// effective uid out of /proc/<pid>/status, per spec §4.2: effective
// uid == 0 is TrustSystem, anything else is TrustThirdParty.
func DefaultTrustFunc(pid int32) (structs.TrustLevel, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return structs.TrustThirdParty, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		// Uid: real effective saved filesystem
		if len(fields) < 3 {
			break
		}
		euid, err := strconv.Atoi(fields[2])
		if err != nil {
			break
		}
		if euid == 0 {
			return structs.TrustSystem, nil
		}
		return structs.TrustThirdParty, nil
	}
	return structs.TrustThirdParty, sc.Err()
}
