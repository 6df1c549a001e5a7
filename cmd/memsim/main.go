// Command memsim simulates a memory hierarchy under the NMOESI coherence
// protocol. It reads a YAML description of the caches, memories, and
// networks, replays a command script, and reports the results.
package main

func main() {
	Execute()
}
