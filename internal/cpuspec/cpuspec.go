// Package cpuspec picks a default inference thread count for the host CPU.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Spec describes the host CPU.
type Spec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int // 0 when the CPU is not a known hybrid design
}

// Detect reads the host CPU identification.
func Detect() Spec {
	return Spec{
		BrandName:        cpuid.CPU.BrandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(cpuid.CPU.BrandName),
	}
}

// OptimalThreads returns the thread count for the interpreter. Hybrid CPUs
// run on their performance cores only; everything else uses every logical
// core the process may schedule on.
func (s Spec) OptimalThreads() int {
	available := runtime.NumCPU()
	if s.PerformanceCores > 0 {
		return min(s.PerformanceCores, available)
	}
	if s.LogicalCores > 0 {
		return min(s.LogicalCores, available)
	}
	return available
}

var (
	intelHybrid = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d\d)\d`)
	intelUltra  = regexp.MustCompile(`intel.*core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	appleM      = regexp.MustCompile(`apple\s+(m[1-4](?:\s+(?:pro|max|ultra))?)`)
)

// Performance core counts keyed by the leading digits of the model number.
var intelPCores = map[string]int{
	"1290": 8, "1270": 8, "1260": 6, "1240": 6, "1210": 4,
	"1390": 8, "1370": 8, "1360": 6, "1350": 6, "1340": 6, "1310": 4,
	"1490": 8, "1470": 8, "1460": 6, "1440": 6, "1410": 4,
}

var ultraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "245": 6, "235": 6, "225": 4,
}

var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
	"m4": 4, "m4 pro": 10, "m4 max": 12,
}

func performanceCores(brand string) int {
	brand = strings.ToLower(brand)

	if m := intelHybrid.FindStringSubmatch(brand); m != nil {
		return intelPCores[m[1]]
	}
	if m := intelUltra.FindStringSubmatch(brand); m != nil {
		return ultraPCores[m[1]]
	}
	if m := appleM.FindStringSubmatch(brand); m != nil {
		return applePCores[strings.Join(strings.Fields(m[1]), " ")]
	}
	return 0
}
