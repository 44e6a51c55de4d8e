// Command authstudio serves the studio events API over a configured event
// store.
package main

func main() {
	Execute()
}
