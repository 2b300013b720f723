package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

type Context struct {
	config  *Config
	space   *memhal.Simulated
	ledger  *ledger.Ledger
	patcher *patch.Patcher
	log     *logrus.Logger
}

var CLI struct {
	Config   string `optional help:"Configuration file." default:"patchctl.yaml" type:"path"`
	LogLevel int    `optional help:"Higher values give more output."`

	Image   string `optional help:"Memory dump to map instead of the configured segments." type:"path"`
	Base    int    `optional type:"hex" help:"Load address of --image." default:"401000"`
	Prot    string `optional help:"Protection of --image." default:"r-x"`
	Variant string `optional help:"Build variant used to select plan addresses."`

	ListRegions MEMIOListRegions  `cmd help:"List mapped segments."`
	Read        MEMIOReadCmd      `cmd help:"Read and dump memory."`
	Write       MEMIOWriteCmd     `cmd help:"Patch one byte and show the result."`
	WriteFile   MEMIOWriteFileCmd `cmd help:"Patch the contents of a file and show the result."`

	CheckPlans PlanCheckCmd `cmd help:"Report conflicts between patch plans without applying them."`
	ApplyPlans PlanApplyCmd `cmd help:"Apply patch plans in order."`

	RunModules ModulesRunCmd `cmd help:"Load extension modules and run their entry points."`
}

func (c *Context) logFunc(level int, format string, param ...interface{}) {
	switch level {
	case 0:
		c.log.Warnf(format, param...)
	case 1:
		c.log.Infof(format, param...)
	case 2:
		c.log.Debugf(format, param...)
	default:
		c.log.Tracef(format, param...)
	}
}

func main() {
	k, err := kong.New(&CLI,
		kong.NamedMapper("int", intMapper{}),
		kong.NamedMapper("hex", intMapper{base: 16}))
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, err := k.Parse(os.Args[1:])
	if err != nil {
		fmt.Println(err)
		return
	}

	c := &Context{
		log: newLogger(CLI.LogLevel),
	}

	c.config, err = LoadConfig(CLI.Config)
	if err != nil {
		fmt.Println("Failed to load configuration", err)
		return
	}
	c.config.applyFlags()

	c.space, err = c.config.BuildSpace()
	if err != nil {
		fmt.Println("Failed to map segments", err)
		return
	}

	c.ledger = ledger.New()
	c.patcher = patch.New(c.ledger, c.space, patch.Config{
		Owner:   "patchctl",
		LogFunc: c.logFunc,
	})

	err = ctx.Run(c)
	ctx.FatalIfErrorf(err)
}
