// pltinspect is a standalone diagnostic that lists the JUMP_SLOT PLT
// entries procimage/patch would operate on for a given already-loaded
// shared object (or the main executable), in the spirit of objdump -R.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"

	"github.com/zyedidia/pltwatch/errs"
	"github.com/zyedidia/pltwatch/interpose"
	"github.com/zyedidia/pltwatch/procimage"
	"github.com/zyedidia/pltwatch/version"
)

func fatal(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}

func must(desc string, err error) {
	if err != nil {
		fatal(desc, ":", err)
	}
}

func main() {
	flagparser := flags.NewParser(&opts, flags.PassDoubleDash|flags.PrintErrors)
	flagparser.Usage = "[OPTIONS]"
	_, err := flagparser.Parse()
	if err != nil {
		os.Exit(1)
	}

	if opts.Help {
		flagparser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Println("pltinspect version", version.String())
		os.Exit(0)
	}

	if opts.Verbose {
		logger := log.New(os.Stdout, "INFO: ", 0)
		interpose.SetLogger(logger)
	}

	img, err := procimage.Inspect(opts.Path)
	must("inspect", err)

	t := tablewriter.NewWriter(os.Stdout)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeader([]string{"Symbol", "Demangled", "GOT address"})

	cur := img.Cursor()
	for {
		entry, err := cur.Next()
		if errors.Is(err, errs.EndOfEnumeration) {
			break
		}
		must("enumerate", err)

		t.Append([]string{
			entry.Name,
			interpose.DisplayName(entry.Name),
			fmt.Sprintf("%#x", entry.GotAddr),
		})
	}
	t.Render()
}
