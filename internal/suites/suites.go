// Package suites holds the protocol conformance test bodies. Cases are
// registered in static tables; declaration order is execution order.
package suites

import "nascert/internal/harness"

// mountTable is the kernel mount table consulted by the option
// verification cases. Tests point it at a fixture.
var mountTable = "/proc/mounts"

// All returns every registered case in execution order: shared NFS
// cases first, then NFSv4-specific cases, then SMB cases. The engine
// drops cases whose scope or access requirements do not match the
// mounted target.
func All() []harness.Case {
	var cases []harness.Case
	cases = append(cases, nfsSharedCases...)
	cases = append(cases, nfsv4Cases...)
	cases = append(cases, smbCases...)
	return cases
}
