package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blacktop/go-macho-ld/ld"
	"github.com/blacktop/go-macho-ld/types"
)

var rootCmd = &cobra.Command{
	Use:   "objdump-atoms <object-file>",
	Short: "split a Mach-O object file into atoms and resolve its relocations",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

var (
	noSubsections bool
	wantArch      string
	showDices     bool
	showStabs     bool
)

func init() {
	rootCmd.Flags().BoolVar(&noSubsections, "no-subsections", false, "ignore N_ALT_ENTRY/subsections-via-symbols splitting")
	rootCmd.Flags().StringVar(&wantArch, "arch", "", "fail unless the object's CPU type matches (arm64 or x86_64)")
	rootCmd.Flags().BoolVar(&showDices, "dices", false, "print each atom's data-in-code entries")
	rootCmd.Flags().BoolVar(&showStabs, "stabs", false, "print stab kind/size for contained symbols")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	var fileID uint32
	obj, err := ld.Parse(data, &fileID, ld.Config{})
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	if wantArch != "" {
		if err := checkArch(obj, wantArch); err != nil {
			return err
		}
	}

	ctx := newDumpContext(obj, &fileID)

	if err := obj.Split(ctx, !noSubsections); err != nil {
		return fmt.Errorf("splitting: %w", err)
	}

	for _, atom := range obj.Atoms() {
		if err := obj.Resolve(ctx, atom); err != nil {
			color.Red("  ! resolve %s: %v", atomLabel(obj, atom), err)
		}
	}

	printAtoms(obj, ctx)
	return nil
}

func checkArch(obj *ld.Object, want string) error {
	var cpu types.CPU
	switch want {
	case "arm64":
		cpu = types.CPUArm64
	case "x86_64":
		cpu = types.CPUAmd64
	default:
		return fmt.Errorf("unknown --arch %q (want arm64 or x86_64)", want)
	}
	if obj.Header.CPU != cpu {
		return fmt.Errorf("object is %s, not %s", obj.Header.CPU, want)
	}
	return nil
}

func atomLabel(obj *ld.Object, a *ld.Atom) string {
	if a.File == nil {
		return "<synthetic>"
	}
	return obj.Sym(a.SymIndex).Name
}

func printAtoms(obj *ld.Object, ctx *dumpContext) {
	bold := color.New(color.Bold)
	for _, a := range obj.Atoms() {
		name := atomLabel(obj, a)
		bold.Printf("%s\n", name)
		fmt.Printf("  vaddr=0x%x size=%d align=%d relocs=%d rebases=%d bindings=%d dices=%d",
			a.VAddr, a.Size, a.Alignment, len(a.Relocs), len(a.Rebases), len(a.Bindings), len(a.Dices))
		if a.GCRoot {
			color.New(color.FgGreen).Printf(" gcroot")
		}
		fmt.Println()
		for _, c := range a.Contained {
			fmt.Printf("    + %s @ %#x", obj.Sym(c.SymIndex).Name, c.Offset)
			if showStabs && c.Stab.Kind != 0 {
				fmt.Printf(" stab(kind=%#x size=%d)", c.Stab.Kind, c.Stab.Size)
			}
			fmt.Println()
		}
		if showDices {
			for _, d := range a.Dices {
				fmt.Printf("    dice offset=%#x length=%d kind=%#x\n", d.Offset, d.Length, uint16(d.Kind))
			}
		}
	}

	if len(ctx.synthetic) == 0 {
		return
	}
	color.New(color.FgCyan, color.Bold).Println("synthetic")
	for _, a := range ctx.synthetic {
		label := ctx.names[a]
		if label == "" {
			label = "?"
		}
		fmt.Printf("  %s vaddr=0x%x size=%d\n", label, a.VAddr, a.Size)
	}
}
