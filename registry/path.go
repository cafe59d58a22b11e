package registry

import (
	"encoding/json"
	"strings"

	"golang.org/x/exp/slices"
)

const PathSeparator = "/"

// the display form of the empty path
const RootPath = "/"

// Path names a registry directory by its segments.
// A path is immutable. All constructors copy the segments in and all accessors copy them out.
// comparable with `Equal`
type Path struct {
	segments []string
}

func NewPath(segments ...string) Path {
	return Path{
		segments: slices.Clone(segments),
	}
}

func RootRegistryPath() Path {
	return Path{}
}

// empty segments are dropped, so "/a//b/" is the same as "a/b"
func ParsePath(pathStr string) Path {
	segments := []string{}
	for _, segment := range strings.Split(pathStr, PathSeparator) {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return Path{
		segments: segments,
	}
}

func (self Path) Segments() []string {
	return slices.Clone(self.segments)
}

func (self Path) Len() int {
	return len(self.segments)
}

func (self Path) IsRoot() bool {
	return len(self.segments) == 0
}

// `name` may hold more than one segment, e.g. "b/c". Empty segments are dropped as in `ParsePath`.
func (self Path) Child(name string) Path {
	segments := make([]string, 0, len(self.segments)+1)
	segments = append(segments, self.segments...)
	segments = append(segments, ParsePath(name).segments...)
	return Path{
		segments: segments,
	}
}

// the parent of the root is the root
func (self Path) Parent() Path {
	if len(self.segments) == 0 {
		return self
	}
	return Path{
		segments: slices.Clone(self.segments[:len(self.segments)-1]),
	}
}

func (self Path) Equal(other Path) bool {
	return slices.Equal(self.segments, other.segments)
}

func (self Path) String() string {
	if len(self.segments) == 0 {
		return RootPath
	}
	return PathSeparator + strings.Join(self.segments, PathSeparator)
}

func (self Path) MarshalJSON() ([]byte, error) {
	if self.segments == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(self.segments)
}

func (self *Path) UnmarshalJSON(src []byte) error {
	var segments []string
	if err := json.Unmarshal(src, &segments); err != nil {
		return err
	}
	self.segments = segments
	return nil
}
