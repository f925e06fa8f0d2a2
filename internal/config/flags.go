package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"
)

// version is reported by --version. Set at release time; "dev" otherwise.
var version = "dev"

// errExit is returned by Load/LoadPlayer when --help or --version was
// requested and already handled (printed); callers should exit 0.
var errExit = errors.New("config: help or version requested, already printed")

// IsExit reports whether err is the sentinel returned when --help or
// --version was already handled, so main() can exit 0 instead of logging
// a failure.
func IsExit(err error) bool {
	return errors.Is(err, errExit)
}

// flagSet wraps *flag.FlagSet to add --version handling and small numeric
// Var helpers flag.FlagSet doesn't provide natively (Uint8Var, Uint32Var),
// while keeping the teacher's flag.FlagSet-based registration style.
type flagSet struct {
	set  *flag.FlagSet
	name string
	exit bool
}

func newFlagSet(name string) *flagSet {
	fs := &flagSet{name: name, set: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs.set.Bool("version", false, "print version and exit")
	return fs
}

func (fs *flagSet) BoolVar(p *bool, name string, value bool, usage string) {
	fs.set.BoolVar(p, name, value, usage)
}

func (fs *flagSet) StringVar(p *string, name string, value string, usage string) {
	fs.set.StringVar(p, name, value, usage)
}

func (fs *flagSet) IntVar(p *int, name string, value int, usage string) {
	fs.set.IntVar(p, name, value, usage)
}

func (fs *flagSet) DurationVar(p *time.Duration, name string, value time.Duration, usage string) {
	fs.set.DurationVar(p, name, value, usage)
}

func (fs *flagSet) Uint32Var(p *uint32, name string, value uint32, usage string) {
	*p = value
	fs.set.Var(&uint32Value{p}, name, usage)
}

func (fs *flagSet) Uint8Var(p *uint8, name string, value uint8, usage string) {
	*p = value
	fs.set.Var(&uint8Value{p}, name, usage)
}

func (fs *flagSet) Parse(args []string) error {
	if err := fs.set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.exit = true
			return nil
		}
		return err
	}
	if v := fs.set.Lookup("version"); v != nil && v.Value.String() == "true" {
		fmt.Printf("%s %s\n", fs.name, version)
		fs.exit = true
	}
	return nil
}

func (fs *flagSet) wasSet(name string) bool {
	found := false
	fs.set.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// uint32Value and uint8Value implement flag.Value over the corresponding
// narrow integer types, since the standard library only provides Uint and
// Uint64 flag helpers.
type uint32Value struct{ p *uint32 }

func (v *uint32Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v *uint32Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	*v.p = uint32(n)
	return nil
}

type uint8Value struct{ p *uint8 }

func (v *uint8Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v *uint8Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return err
	}
	*v.p = uint8(n)
	return nil
}
