package monitor

import "github.com/beevik/cmd"

//nolint:gochecknoglobals
var cmds *cmd.Tree

//nolint:funlen
func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "gox86"})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "help",
		Description: "Display help for a command.",
		Usage:       "help [<command>]",
		Data:        (*Host).cmdHelp,
	})

	bp := root.AddSubtree(cmd.TreeDescriptor{Name: "breakpoint", Brief: "Breakpoint commands"})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List breakpoints",
		Description: "List all current breakpoints.",
		Usage:       "breakpoint list",
		Data:        (*Host).cmdBreakpointList,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a breakpoint",
		Description: "Add a breakpoint at the specified linear address." +
			" A running CPU stops before executing the instruction there.",
		Usage: "breakpoint add <address>",
		Data:  (*Host).cmdBreakpointAdd,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "remove",
		Brief:       "Remove a breakpoint",
		Description: "Remove a breakpoint at the specified linear address.",
		Usage:       "breakpoint remove <address>",
		Data:        (*Host).cmdBreakpointRemove,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:        "cpu",
		Brief:       "Select the CPU",
		Description: "Select the CPU the other commands operate on.",
		Usage:       "cpu <index>",
		Data:        (*Host).cmdCPU,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "disassemble",
		Brief: "Disassemble code",
		Description: "Disassemble machine code starting at the requested" +
			" linear address. The number of instruction lines to" +
			" disassemble may be specified as an option. If no address" +
			" is specified, the disassembly continues from where the last" +
			" disassembly left off.",
		Usage: "disassemble [<address>] [<lines>]",
		Data:  (*Host).cmdDisassemble,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "interrupt",
		Brief: "Raise an external interrupt",
		Description: "Queue an external interrupt with the given vector on" +
			" the selected CPU. It is taken once interrupts are enabled.",
		Usage: "interrupt <vector>",
		Data:  (*Host).cmdInterrupt,
	})

	mem := root.AddSubtree(cmd.TreeDescriptor{Name: "memory", Brief: "Memory commands"})
	mem.AddCommand(cmd.CommandDescriptor{
		Name:  "dump",
		Brief: "Dump memory at address",
		Description: "Dump the contents of memory starting from the" +
			" specified linear address. The number of bytes to dump may" +
			" be specified as an option. Use '$' to continue where the" +
			" last dump left off and '.' for the current instruction.",
		Usage: "memory dump <address> [<bytes>]",
		Data:  (*Host).cmdMemoryDump,
	})
	mem.AddCommand(cmd.CommandDescriptor{
		Name:        "write",
		Brief:       "Write a dword to memory",
		Description: "Write a little-endian dword at the specified linear address.",
		Usage:       "memory write <address> <value>",
		Data:        (*Host).cmdMemoryWrite,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:        "quit",
		Brief:       "Quit the program",
		Description: "Quit the program.",
		Usage:       "quit",
		Data:        (*Host).cmdQuit,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "registers",
		Brief: "Display register contents",
		Description: "Display the general purpose registers, EIP, EFLAGS" +
			" and the instruction at CS:EIP.",
		Usage: "registers",
		Data:  (*Host).cmdRegisters,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "run",
		Brief: "Run the CPU",
		Description: "Run the selected CPU until it halts with interrupts" +
			" disabled, hits a breakpoint, reaches the step limit or is" +
			" interrupted by ctrl-C.",
		Usage: "run",
		Data:  (*Host).cmdRun,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "segments",
		Brief: "Display segment registers",
		Description: "Display the segment registers with their descriptor" +
			" caches, the descriptor table registers and the control" +
			" registers.",
		Usage: "segments",
		Data:  (*Host).cmdSegments,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set a configuration variable",
		Description: "Set the value of a configuration variable or a" +
			" register. To see the current values of all configuration" +
			" variables, type set without any arguments.",
		Usage: "set [<var> <value>]",
		Data:  (*Host).cmdSet,
	})

	snap := root.AddSubtree(cmd.TreeDescriptor{Name: "snapshot", Brief: "Snapshot commands"})
	snap.AddCommand(cmd.CommandDescriptor{
		Name:        "save",
		Brief:       "Save a snapshot",
		Description: "Write memory and machine state to a file.",
		Usage:       "snapshot save <filename>",
		Data:        (*Host).cmdSnapshotSave,
	})
	snap.AddCommand(cmd.CommandDescriptor{
		Name:        "load",
		Brief:       "Load a snapshot",
		Description: "Replace memory and machine state with a saved snapshot.",
		Usage:       "snapshot load <filename>",
		Data:        (*Host).cmdSnapshotLoad,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:  "step",
		Brief: "Step the CPU",
		Description: "Step the selected CPU by one or more instructions," +
			" displaying each one.",
		Usage: "step [<count>]",
		Data:  (*Host).cmdStep,
	})

	// Shortcuts resolve to commands only, not subtrees
	root.AddShortcut("b", "breakpoint add")
	root.AddShortcut("bl", "breakpoint list")
	root.AddShortcut("d", "disassemble")
	root.AddShortcut("m", "memory dump")
	root.AddShortcut("r", "registers")
	root.AddShortcut("s", "step")

	cmds = root
}
