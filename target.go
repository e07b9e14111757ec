package buildorch

// Target is a hardware+OS tuple. Every package record, job-graph entry, job,
// and worker is scoped to exactly one target; the dependency graph (§4.A) is
// maintained independently per target.
type Target string

const (
	TargetX8664Linux        Target = "x86_64-linux"
	TargetX8664Windows      Target = "x86_64-windows"
	TargetX8664LinuxKernel2 Target = "x86_64-linux-kernel2"
)

// Targets contains one entry for every target the core knows how to
// schedule builds for, mirroring distri's Architectures map.
var Targets = map[Target]bool{
	TargetX8664Linux:        true,
	TargetX8664Windows:      true,
	TargetX8664LinuxKernel2: true,
}

// Supported reports whether t is one of the configured build targets.
func (t Target) Supported() bool {
	return Targets[t]
}
