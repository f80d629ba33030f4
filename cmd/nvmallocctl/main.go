// Command nvmallocctl drives an nvmalloc allocator instance outside of
// a hosting process: stress testing, state dumps, and recovery-log
// replay.
package main

func main() {
	execute()
}
