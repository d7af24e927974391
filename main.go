package main

import (
	"AutoFM/cmd"
	"log"
)

func main() {
	cmd.Execute()
	// If Execute() had a problem, Cobra would have called os.Exit.
	// Reaching here means the command finished (or the server started
	// without a setup error).
	log.Println("Application command execution finished or server started.")
}
