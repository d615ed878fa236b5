package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrJavaNotFound is returned when no JVM can be located.
var ErrJavaNotFound = errors.New("could not find a JVM executable; ensure java is on the PATH, JAVA_HOME is set, or pass --jvm")

// FindJava searches the PATH for java, then JAVA_HOME.
func FindJava() (string, error) {
	searches := []struct {
		env  string
		file string
	}{
		{"PATH", "java"},
		{"JAVA_HOME", filepath.Join("bin", "java")},
	}

	for _, s := range searches {
		paths := os.Getenv(s.env)
		if paths == "" {
			continue
		}
		for _, dir := range filepath.SplitList(paths) {
			candidate := filepath.Join(dir, s.file)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", ErrJavaNotFound
}

// minHeapMB is the smallest heap the server is started with; a smaller
// one cannot boot a modern server jar.
const minHeapMB = 500

// DefaultJVMArgs builds the flag set used when no JVM arguments are
// configured: a heap sized at half the available system memory, clamped
// to a 500m floor, plus the usual G1 tuning for game servers.
func DefaultJVMArgs() []string {
	heap := heapSize(availableMemoryMB())

	return []string{
		"-Xms" + heap,
		"-Xmx" + heap,
		"-XX:+UseG1GC",
		"-XX:+UnlockExperimentalVMOptions",
		"-XX:MaxGCPauseMillis=100",
		"-XX:+DisableExplicitGC",
		"-XX:TargetSurvivorRatio=90",
		"-XX:G1NewSizePercent=50",
		"-XX:G1MaxNewSizePercent=80",
		"-XX:G1MixedGCLiveThresholdPercent=35",
		"-XX:+AlwaysPreTouch",
		"-XX:+ParallelRefProcEnabled",
	}
}

// heapSize converts available memory to an -Xmx value: half of it, but
// never below the floor. Zero means the probe failed and the floor is
// used as-is.
func heapSize(availableMB uint64) string {
	if half := availableMB / 2; half > minHeapMB {
		return fmt.Sprintf("%dm", half)
	}
	return fmt.Sprintf("%dm", minHeapMB)
}
