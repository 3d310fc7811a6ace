package main

import (
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"rtti2cheader/rtti"
	"rtti2cheader/utils"
)

func main() {
	log.SetHandler(clihandler.New(os.Stderr))
	log.SetLevel(log.InfoLevel)

	app := &cli.App{
		Name:  "rtti2cheader",
		Usage: "recover C++ class hierarchies from GCC RTTI",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable coloured output",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			if c.Bool("no-color") {
				color.NoColor = true
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:    "rtti",
				Aliases: []string{"r"},
				Usage:   "rtti to c header file",
				Flags: append(configFlags(),
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Usage:       "output directory",
						Value:       "./",
						DefaultText: "./",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "parse only the type_info at this address",
					},
					&cli.StringFlag{
						Name:  "idc",
						Usage: "write annotations as an IDC script",
					},
					&cli.StringFlag{
						Name:  "json",
						Usage: "write annotations as JSON",
					},
					&cli.StringFlag{
						Name:  "listing",
						Usage: "write annotations as a text listing",
					},
					&cli.StringFlag{
						Name:  "class-vtable",
						Usage: "address of the __class_type_info vtable pointer value",
					},
					&cli.StringFlag{
						Name:  "si-vtable",
						Usage: "address of the __si_class_type_info vtable pointer value",
					},
					&cli.StringFlag{
						Name:  "vmi-vtable",
						Usage: "address of the __vmi_class_type_info vtable pointer value",
					},
				),
				Action: func(c *cli.Context) error {
					vt, err := vtableFlags(c)
					if err != nil {
						return err
					}
					return RttiHelper(rttiOptions{
						Input:   c.String("input"),
						Output:  c.String("output"),
						Addr:    c.String("addr"),
						IDC:     c.String("idc"),
						JSON:    c.String("json"),
						Listing: c.String("listing"),
						Vtables: vt,
						Config:  parserConfig(c),
					})
				},
			},
			{
				Name:    "verify",
				Aliases: []string{"v"},
				Usage:   "check recovered hierarchies against DWARF",
				Flags:   configFlags(),
				Action: func(c *cli.Context) error {
					return VerifyHelper(c.String("input"), parserConfig(c))
				},
			},
			{
				Name:    "dwarf",
				Aliases: []string{"d"},
				Usage:   "list DWARF classes and their bases",
				Flags: []cli.Flag{
					inputFlag(),
				},
				Action: func(c *cli.Context) error {
					return DwarfHelper(c.String("input"))
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "input ELF file",
		Required: true,
	}
}

func configFlags() []cli.Flag {
	def := rtti.DefaultConfig()
	return []cli.Flag{
		inputFlag(),
		&cli.IntFlag{
			Name:    "max-depth",
			Usage:   "deepest inheritance chain followed",
			Value:   def.MaxDepth,
			EnvVars: []string{"RTTI_MAX_DEPTH"},
		},
		&cli.IntFlag{
			Name:    "max-name",
			Usage:   "longest type name read",
			Value:   def.MaxNameLength,
			EnvVars: []string{"RTTI_MAX_NAME"},
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "prefix of type_info record names",
			Value: def.NamePrefix,
		},
	}
}

func parserConfig(c *cli.Context) rtti.Config {
	return rtti.Config{
		MaxDepth:      c.Int("max-depth"),
		MaxNameLength: c.Int("max-name"),
		NamePrefix:    c.String("prefix"),
	}
}

func vtableFlags(c *cli.Context) (rtti.Vtables, error) {
	var vt rtti.Vtables
	for _, f := range []struct {
		name string
		dst  *uint64
	}{
		{"class-vtable", &vt.Class},
		{"si-vtable", &vt.SI},
		{"vmi-vtable", &vt.VMI},
	} {
		if !c.IsSet(f.name) {
			continue
		}
		addr, err := utils.ParseAddress(c.String(f.name))
		if err != nil {
			return vt, err
		}
		*f.dst = addr
	}
	return vt, nil
}
