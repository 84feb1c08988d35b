package profiling

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loopscope/loopscope/sched"
)

// A Backend is one measurement strategy. Exactly one backend is active per
// session.
//
// Start begins observation and must return quickly or report a recoverable
// error. Stop ends observation and is idempotent: calling it twice, or
// without a prior Start, is a no-op. CollectStats contributes to the stats
// structure without side effects and must produce a valid contribution even
// if Start was never called.
type Backend interface {
	Name() string
	Start() error
	Stop()
	CollectStats(s *Stats)
}

// BackendInfo describes a registered backend implementation. Available is a
// pure capability check with no side effects, consulted before
// instantiation; nil means always available.
type BackendInfo struct {
	Name      string
	Priority  int
	Available func(l *sched.Loop) bool
	New       func(l *sched.Loop, sess *Session, cfg Config) Backend
}

var (
	registryMu sync.Mutex
	registry   []BackendInfo
)

// RegisterBackend adds a backend implementation to the static registry.
func RegisterBackend(info BackendInfo) {
	if info.Name == "" {
		panic("backend must have a name")
	}
	if info.New == nil {
		panic("backend must have a constructor")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	for _, registered := range registry {
		if registered.Name == info.Name {
			panic("backend " + info.Name + " already registered")
		}
	}

	registry = append(registry, info)
}

// RegisteredBackends returns a copy of the registry.
func RegisteredBackends() []BackendInfo {
	registryMu.Lock()
	defer registryMu.Unlock()

	infos := make([]BackendInfo, len(registry))
	copy(infos, registry)
	return infos
}

func backendAvailable(info BackendInfo, l *sched.Loop) bool {
	return info.Available == nil || info.Available(l)
}

// selectBackend applies the selection policy over a registry snapshot. With
// BackendAuto it picks the available backend with the highest priority. An
// explicit name is validated for availability; if the request cannot be
// served, selection falls back to auto and reports a warning.
func selectBackend(
	infos []BackendInfo,
	requested string,
	l *sched.Loop,
) (selected BackendInfo, warning string, ok bool) {
	if requested != "" && requested != BackendAuto {
		for _, info := range infos {
			if info.Name != requested {
				continue
			}
			if backendAvailable(info, l) {
				return info, "", true
			}

			fallback, _, fbOK := selectBackend(infos, BackendAuto, l)
			if !fbOK {
				return BackendInfo{},
					fmt.Sprintf("backend %q unavailable and no fallback exists",
						requested),
					false
			}
			return fallback,
				fmt.Sprintf("backend %q unavailable, falling back to %q",
					requested, fallback.Name),
				true
		}

		fallback, _, fbOK := selectBackend(infos, BackendAuto, l)
		if !fbOK {
			return BackendInfo{},
				fmt.Sprintf("unknown backend %q and no fallback exists", requested),
				false
		}
		return fallback,
			fmt.Sprintf("unknown backend %q, falling back to %q",
				requested, fallback.Name),
			true
	}

	candidates := make([]BackendInfo, len(infos))
	copy(candidates, infos)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	for _, info := range candidates {
		if backendAvailable(info, l) {
			return info, "", true
		}
	}

	return BackendInfo{}, "no backend available", false
}
