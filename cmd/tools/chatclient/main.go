// Command chatclient is a terminal client for the trip chat backend. It
// drives the same messaging core a presentation layer would.
package main

func main() {
	Execute()
}
