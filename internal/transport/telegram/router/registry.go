package router

import (
	"fmt"
	"strings"
)

// commandSet is an immutable snapshot of the registered commands.
// SetRegistry swaps it atomically under CommandManager.mu.
type commandSet struct {
	ordered []*Command
	byName  map[string]*Command // names and aliases
}

func emptyCommandSet() *commandSet {
	return &commandSet{byName: map[string]*Command{}}
}

// newCommandSet indexes cmds by name and alias. Invalid or duplicate names
// are skipped and reported in problems.
func newCommandSet(cmds []Command) (set *commandSet, problems []string) {
	set = emptyCommandSet()
	for i := range cmds {
		c := cmds[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Handle == nil || !validCommandName(c.Name) {
			problems = append(problems, fmt.Sprintf("command %q skipped: invalid name or no handler", c.Name))
			continue
		}
		if _, dup := set.byName[c.Name]; dup {
			problems = append(problems, fmt.Sprintf("command %q skipped: already registered", c.Name))
			continue
		}
		aliases := c.Aliases[:0:0]
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if !validCommandName(a) {
				problems = append(problems, fmt.Sprintf("alias %q of /%s skipped: invalid name", a, c.Name))
				continue
			}
			if _, dup := set.byName[a]; dup {
				problems = append(problems, fmt.Sprintf("alias %q of /%s skipped: already registered", a, c.Name))
				continue
			}
			aliases = append(aliases, a)
		}
		c.Aliases = aliases

		cp := &c
		set.ordered = append(set.ordered, cp)
		set.byName[c.Name] = cp
		for _, a := range aliases {
			set.byName[a] = cp
		}
	}
	return set, problems
}

func (s *commandSet) lookup(name string) (*Command, bool) {
	c, ok := s.byName[name]
	return c, ok
}
