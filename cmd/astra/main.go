// Astra - keep serverless databases awake.
// Find it. Wake it. Wait for it.
package main

func main() {
	Execute()
}
