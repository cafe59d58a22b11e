package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bringyour/registry/registry"
)

const defaultTerminalWidth = 80

// TerminalView prints listings and changes as text. Directories are blue.
type TerminalView struct {
	out io.Writer

	// changes arrive on the relay goroutine while listings arrive on api goroutines
	outLock sync.Mutex

	dirColor     *color.Color
	keyColor     *color.Color
	errorColor   *color.Color
	removedColor *color.Color
}

func NewTerminalView(out io.Writer) *TerminalView {
	return &TerminalView{
		out:          out,
		dirColor:     color.New(color.FgBlue, color.Bold),
		keyColor:     color.New(color.FgGreen),
		errorColor:   color.New(color.FgRed),
		removedColor: color.New(color.FgYellow),
	}
}

func (self *TerminalView) width() int {
	if f, ok := self.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && 0 < width {
			return width
		}
	}
	return defaultTerminalWidth
}

func (self *TerminalView) ShowListing(path registry.Path, listing *registry.RegistryListing) {
	self.outLock.Lock()
	defer self.outLock.Unlock()

	width := self.width()

	fmt.Fprintf(self.out, "%s\n", path)
	for _, dir := range listing.SortedDirs() {
		self.dirColor.Fprintf(self.out, "  %s/\n", dir)
	}
	for _, entry := range listing.Entries() {
		// truncate by runes so multi-byte text is not cut mid-character
		line := []rune(fmt.Sprintf("  %s = %s", entry.Key, entry.Val))
		if width < len(line) && 3 < width {
			line = append(line[:width-3], []rune("...")...)
		}
		// color only the key part
		keyEnd := min(2+utf8.RuneCountInString(entry.Key), len(line))
		self.keyColor.Fprint(self.out, string(line[:keyEnd]))
		fmt.Fprintf(self.out, "%s\n", string(line[keyEnd:]))
	}
}

func (self *TerminalView) ShowError(path registry.Path, err error) {
	self.outLock.Lock()
	defer self.outLock.Unlock()

	self.errorColor.Fprintf(self.out, "%s (disconnected): %s\n", path, err)
}

func (self *TerminalView) ShowChange(change *registry.RegistryChange) {
	self.outLock.Lock()
	defer self.outLock.Unlock()

	name := change.Name
	if change.IsDir {
		name = name + "/"
	}
	target := strings.TrimSuffix(change.Path.String(), "/") + "/" + name
	if change.AddOrChange {
		self.keyColor.Fprintf(self.out, "~ %s\n", target)
	} else {
		self.removedColor.Fprintf(self.out, "- %s\n", target)
	}
}
