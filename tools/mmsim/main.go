//go:build !386

// Command mmsim boots the kestrel memory manager on an emulated machine,
// runs allocation scenarios against it and reports frame usage and leaks.
package main

func main() {
	execute()
}
