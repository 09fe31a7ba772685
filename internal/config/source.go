package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// source resolves a flag from the command line or environment first, then
// the config file, then the flag default.
type source struct {
	c *cli.Context
	v *viper.Viper
}

func (s source) fromFile(name string) bool {
	return !s.c.IsSet(name) && s.v.IsSet(name)
}

func (s source) String(f *cli.StringFlag) string {
	if s.fromFile(f.Name) {
		return s.v.GetString(f.Name)
	}
	return s.c.String(f.Name)
}

func (s source) Int(f *cli.IntFlag) int {
	if s.fromFile(f.Name) {
		return s.v.GetInt(f.Name)
	}
	return s.c.Int(f.Name)
}

func (s source) Uint64(f *cli.Uint64Flag) uint64 {
	if s.fromFile(f.Name) {
		return s.v.GetUint64(f.Name)
	}
	return s.c.Uint64(f.Name)
}

func (s source) Float64(f *cli.Float64Flag) float64 {
	if s.fromFile(f.Name) {
		return s.v.GetFloat64(f.Name)
	}
	return s.c.Float64(f.Name)
}

func (s source) Bool(f *cli.BoolFlag) bool {
	if s.fromFile(f.Name) {
		return s.v.GetBool(f.Name)
	}
	return s.c.Bool(f.Name)
}

func (s source) Duration(f *cli.DurationFlag) time.Duration {
	if s.fromFile(f.Name) {
		return s.v.GetDuration(f.Name)
	}
	return s.c.Duration(f.Name)
}
