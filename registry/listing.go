package registry

import (
	"golang.org/x/exp/slices"
)

// `RegistryListing` is a snapshot of one directory at fetch time.
// `Keys` and `Vals` are parallel.
type RegistryListing struct {
	Path Path     `json:"path"`
	Dirs []string `json:"dirs"`
	Keys []string `json:"keys"`
	Vals []string `json:"vals"`
}

type RegistryEntry struct {
	Key string
	Val string
}

// entries sorted by key
func (self *RegistryListing) Entries() []RegistryEntry {
	entries := []RegistryEntry{}
	for i, key := range self.Keys {
		entry := RegistryEntry{
			Key: key,
		}
		if i < len(self.Vals) {
			entry.Val = self.Vals[i]
		}
		entries = append(entries, entry)
	}
	slices.SortStableFunc(entries, func(a RegistryEntry, b RegistryEntry) int {
		switch {
		case a.Key < b.Key:
			return -1
		case b.Key < a.Key:
			return 1
		default:
			return 0
		}
	})
	return entries
}

func (self *RegistryListing) SortedDirs() []string {
	dirs := slices.Clone(self.Dirs)
	slices.Sort(dirs)
	return dirs
}

// `RegistryChange` is a change notification for a watched directory,
// delivered through the relay to the watcher with the matching `WatchId`.
type RegistryChange struct {
	WatchId     WatchId
	Path        Path
	Name        string
	IsDir       bool
	AddOrChange bool
}
