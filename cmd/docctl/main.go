// Command docctl is the backbone's operator CLI: upload intake, pipeline run
// control, and dataset export, wired against the same engine components
// documentd exposes over HTTP.
package main

func main() {
	Execute()
}
