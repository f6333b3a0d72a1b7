package main

import "github.com/MeKo-Tech/spectralnoise/internal/cmd"

func main() {
	cmd.Execute()
}
