package cdu

import (
	"strconv"
	"strings"
)

// Simulator command names.
const (
	commandKey          = "cdu-key"
	commandLineSelect   = "cdu-lsk"
	commandButtonPrefix = "cdu-button-"
	releaseSuffix       = "-release"
)

// Command is one "run" command addressed to a keypad instance.
type Command struct {
	Name string
	Args []string
}

// Line renders the command in the simulator's wire grammar, without the
// line terminator.
func (c Command) Line() string {
	if len(c.Args) == 0 {
		return "run " + c.Name
	}
	return "run " + c.Name + " " + strings.Join(c.Args, " ")
}

// Release returns the matching release command.
func (c Command) Release() Command {
	return Command{Name: c.Name + releaseSuffix, Args: c.Args}
}

// CommandFor maps a key to its press command.
//
// The mapping is total over mapped keys:
//   - named line-select keys become cdu-lsk with a 1-based row
//   - other named keys become cdu-button-<name>
//   - character keys become cdu-key with the character code
//
// Returns:
//   - Command: The press command
//   - error: ErrUnmappedKey if the key has neither name nor character
func CommandFor(k Key, cduIndex int) (Command, error) {
	if !k.Mapped() {
		return Command{}, ErrUnmappedKey
	}

	unit := "cdu=" + strconv.Itoa(cduIndex)

	if k.Name == "" {
		return Command{
			Name: commandKey,
			Args: []string{unit, "key=" + strconv.Itoa(int(k.Char))},
		}, nil
	}

	if ls, ok := ParseLineSelect(k.Name); ok {
		return Command{
			Name: commandLineSelect,
			Args: []string{unit, "lsk=" + ls.WireValue()},
		}, nil
	}

	return Command{Name: commandButtonPrefix + k.Name, Args: []string{unit}}, nil
}
