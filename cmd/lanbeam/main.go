// Command lanbeam transfers a single file between two peers on a shared
// network over a direct TCP connection: one peer listens, the other sends.
package main

func main() {
	Execute()
}
