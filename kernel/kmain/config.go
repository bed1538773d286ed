package kmain

import (
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/multiboot"
)

// Config holds the memory layout options that can be overridden from the
// boot command line.
type Config struct {
	// kheap=<size>
	KernelHeapSize uintptr

	// kphysheap=<size>
	KernelPhysHeapSize uintptr

	// kstack=<size>
	KernelStackSize uintptr

	// ustack=<size>
	UserStackSize uintptr

	// uheap=<size>
	UserHeapSize uintptr

	// coalesce=on|off
	Coalesce bool
}

// DefaultConfig returns the configuration used when the boot command line
// does not override any option.
func DefaultConfig() Config {
	return Config{
		KernelHeapSize:     uintptr(4 * mm.Mb),
		KernelPhysHeapSize: uintptr(1 * mm.Mb),
		KernelStackSize:    uintptr(64 * mm.Kb),
		UserStackSize:      uintptr(16 * mm.Kb),
		UserHeapSize:       uintptr(64 * mm.Kb),
	}
}

// ParseConfig applies the options found in the boot command line to the
// default configuration. Malformed values are reported and ignored.
func ParseConfig() Config {
	cfg := DefaultConfig()

	multiboot.VisitBootCmdLine(func(key, value string) bool {
		var target *uintptr
		switch key {
		case "kheap":
			target = &cfg.KernelHeapSize
		case "kphysheap":
			target = &cfg.KernelPhysHeapSize
		case "kstack":
			target = &cfg.KernelStackSize
		case "ustack":
			target = &cfg.UserStackSize
		case "uheap":
			target = &cfg.UserHeapSize
		case "coalesce":
			switch value {
			case "on":
				cfg.Coalesce = true
			case "off":
				cfg.Coalesce = false
			default:
				kfmt.Printf("[kmain] ignoring invalid value '%s' for option '%s'\n", value, key)
			}
			return true
		default:
			return true
		}

		size, ok := mm.ParseSize(value)
		if !ok || size == 0 || size > 1*mm.Gb {
			kfmt.Printf("[kmain] ignoring invalid value '%s' for option '%s'\n", value, key)
			return true
		}

		*target = uintptr(size)
		return true
	})

	return cfg
}
